package engine

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridmarket/certex/internal/book"
	"github.com/gridmarket/certex/internal/compat"
	"github.com/gridmarket/certex/internal/domain"
)

const product = "CERT-2026"

func mkOrder(id string, side domain.Side, price, qty int64, seq uint64, gridOp, deviceType string) *domain.Order {
	return &domain.Order{
		ID:             id,
		OwnerID:        "owner-" + id,
		ProductID:      product,
		Side:           side,
		Price:          price,
		Quantity:       qty,
		Remaining:      qty,
		GridOperatorID: gridOp,
		DeviceTypeID:   deviceType,
		Seq:            seq,
		Status:         domain.Active,
	}
}

func sameGridTable() *compat.Table {
	return &compat.Table{
		GridOperators: map[string][]string{
			"TSO-X": {"TSO-X"},
			"TSO-Y": {"TSO-Y"},
		},
		DeviceTypes: map[string][]string{
			"SOLAR": {"SOLAR"},
		},
	}
}

func TestCrossedCompatiblePairTrades(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 100, 10, 1, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("B", domain.Ask, 90, 10, 2, "TSO-X", "SOLAR")))

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	res, err := m.Run(b, 0)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	require.Equal(t, "A", tr.BidOrderID)
	require.Equal(t, "B", tr.AskOrderID)
	require.Equal(t, int64(100), tr.Price, "maker A quoted the price")
	require.Equal(t, int64(10), tr.Quantity)
	require.Equal(t, uint64(1), tr.Seq)
	require.Equal(t, int64(10), res.Fills["A"])
	require.Equal(t, int64(10), res.Fills["B"])
}

func TestMakerPriceWhenAskRestsFirst(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("B", domain.Ask, 90, 10, 1, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 100, 10, 2, "TSO-X", "SOLAR")))

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	res, err := m.Run(b, 0)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Equal(t, int64(90), res.Trades[0].Price, "maker B quoted the price")
}

func TestIncompatibleHeadDoesNotBlockDeeperAsk(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 100, 10, 1, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("B", domain.Ask, 95, 10, 2, "TSO-Y", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("C", domain.Ask, 98, 10, 3, "TSO-X", "SOLAR")))

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	res, err := m.Run(b, 0)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	require.Equal(t, "C", tr.AskOrderID, "incompatible best ask B is skipped")
	require.Equal(t, int64(100), tr.Price, "A is maker")
	require.Zero(t, res.Fills["B"])
}

func TestUncrossedBookProducesNothing(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 90, 10, 1, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("B", domain.Ask, 100, 10, 2, "TSO-X", "SOLAR")))

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	res, err := m.Run(b, 0)
	require.NoError(t, err)
	require.Empty(t, res.Trades)
	require.Empty(t, res.Fills)
}

func TestPartialFillsAcrossMultipleAsks(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 100, 10, 1, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("B", domain.Ask, 95, 4, 2, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("C", domain.Ask, 96, 20, 3, "TSO-X", "SOLAR")))

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	res, err := m.Run(b, 0)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	require.Equal(t, "B", res.Trades[0].AskOrderID)
	require.Equal(t, int64(4), res.Trades[0].Quantity)
	require.Equal(t, "C", res.Trades[1].AskOrderID)
	require.Equal(t, int64(6), res.Trades[1].Quantity)

	require.Equal(t, int64(10), res.Fills["A"])
	require.Equal(t, int64(4), res.Fills["B"])
	require.Equal(t, int64(6), res.Fills["C"])
	for id, fill := range res.Fills {
		require.LessOrEqual(t, fill, b.Get(id).Quantity)
	}
}

func TestTradeSeqContinuesFromLast(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 100, 10, 1, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("B", domain.Ask, 90, 10, 2, "TSO-X", "SOLAR")))

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	res, err := m.Run(b, 41)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Equal(t, uint64(42), res.Trades[0].Seq)
}

func TestPlanIsDeterministic(t *testing.T) {
	build := func() *book.Book {
		b := book.New(product)
		rng := rand.New(rand.NewSource(99))
		for seq := uint64(1); seq <= 60; seq++ {
			side := domain.Bid
			if rng.Intn(2) == 1 {
				side = domain.Ask
			}
			o := mkOrder(fmt.Sprintf("o-%d", seq), side,
				int64(90+rng.Intn(20)), int64(1+rng.Intn(50)), seq, "TSO-X", "SOLAR")
			require.NoError(t, b.Insert(o))
		}
		return b
	}

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	first, err := m.Run(build(), 0)
	require.NoError(t, err)
	second, err := m.Run(build(), 0)
	require.NoError(t, err)

	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]
		require.Equal(t, a.ID, b.ID)
		require.Equal(t, a.BidOrderID, b.BidOrderID)
		require.Equal(t, a.AskOrderID, b.AskOrderID)
		require.Equal(t, a.Price, b.Price)
		require.Equal(t, a.Quantity, b.Quantity)
		require.Equal(t, a.Seq, b.Seq)
	}
	require.Equal(t, first.Fills, second.Fills)
}

func TestNoTradeEverCrossesIncompatiblePair(t *testing.T) {
	gridOps := []string{"G1", "G2", "G3"}
	deviceTypes := []string{"SOLAR", "WIND", "HYDRO"}
	rng := rand.New(rand.NewSource(2026))

	for round := 0; round < 50; round++ {
		table := &compat.Table{
			GridOperators: make(map[string][]string),
			DeviceTypes:   make(map[string][]string),
		}
		for _, g := range gridOps {
			for _, peer := range gridOps {
				if rng.Intn(2) == 1 {
					table.GridOperators[g] = append(table.GridOperators[g], peer)
				}
			}
			if _, ok := table.GridOperators[g]; !ok && rng.Intn(2) == 1 {
				table.GridOperators[g] = []string{}
			}
		}
		for _, d := range deviceTypes {
			for _, peer := range deviceTypes {
				if rng.Intn(2) == 1 {
					table.DeviceTypes[d] = append(table.DeviceTypes[d], peer)
				}
			}
		}

		b := book.New(product)
		orders := make(map[string]*domain.Order)
		for seq := uint64(1); seq <= 40; seq++ {
			side := domain.Bid
			if rng.Intn(2) == 1 {
				side = domain.Ask
			}
			o := mkOrder(fmt.Sprintf("r%d-o%d", round, seq), side,
				int64(90+rng.Intn(20)), int64(1+rng.Intn(30)), seq,
				gridOps[rng.Intn(len(gridOps))], deviceTypes[rng.Intn(len(deviceTypes))])
			require.NoError(t, b.Insert(o))
			orders[o.ID] = o
		}

		rule := compat.ForTable(table)
		res, err := NewMatcher(rule, nil).Run(b, 0)
		require.NoError(t, err)
		for _, tr := range res.Trades {
			bid, ask := orders[tr.BidOrderID], orders[tr.AskOrderID]
			require.True(t, rule.Compatible(bid, ask),
				"trade %s crossed an incompatible pair", tr.ID)
			require.GreaterOrEqual(t, bid.Price, ask.Price)
		}
		for id, fill := range res.Fills {
			require.LessOrEqual(t, fill, orders[id].Quantity)
			require.Positive(t, fill)
		}
	}
}

func TestCorruptedBookHaltsCycle(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 100, 10, 1, "TSO-X", "SOLAR")))
	b.Get("A").Remaining = -1

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	_, err := m.Run(b, 0)
	require.ErrorIs(t, err, domain.ErrInvariant)
}

func TestRunDoesNotMutateBook(t *testing.T) {
	b := book.New(product)
	require.NoError(t, b.Insert(mkOrder("A", domain.Bid, 100, 10, 1, "TSO-X", "SOLAR")))
	require.NoError(t, b.Insert(mkOrder("B", domain.Ask, 90, 10, 2, "TSO-X", "SOLAR")))

	m := NewMatcher(compat.ForTable(sameGridTable()), nil)
	_, err := m.Run(b, 0)
	require.NoError(t, err)

	require.Equal(t, int64(10), b.Get("A").Remaining)
	require.Equal(t, int64(10), b.Get("B").Remaining)
	require.Equal(t, domain.Active, b.Get("A").Status)
}
