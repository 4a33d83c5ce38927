package book

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridmarket/certex/internal/domain"
)

func mkOrder(id string, side domain.Side, price, qty int64, seq uint64) *domain.Order {
	return &domain.Order{
		ID:             id,
		OwnerID:        "owner-" + id,
		ProductID:      "CERT-2026",
		Side:           side,
		Price:          price,
		Quantity:       qty,
		Remaining:      qty,
		GridOperatorID: "TSO-A",
		DeviceTypeID:   "SOLAR",
		Seq:            seq,
		Status:         domain.Active,
	}
}

func requireSorted(t *testing.T, b *Book) {
	t.Helper()
	bids := b.Bids()
	for i := 1; i < len(bids); i++ {
		prev, cur := bids[i-1], bids[i]
		ok := prev.Price > cur.Price || (prev.Price == cur.Price && prev.Seq < cur.Seq)
		require.True(t, ok, "bids out of order at %d: %+v then %+v", i, prev, cur)
	}
	asks := b.Asks()
	for i := 1; i < len(asks); i++ {
		prev, cur := asks[i-1], asks[i]
		ok := prev.Price < cur.Price || (prev.Price == cur.Price && prev.Seq < cur.Seq)
		require.True(t, ok, "asks out of order at %d: %+v then %+v", i, prev, cur)
	}
}

func TestOrderingInvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New("CERT-2026")

	var ids []string
	var seq uint64
	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0, 1:
			seq++
			id := fmt.Sprintf("o-%d", seq)
			side := domain.Bid
			if rng.Intn(2) == 1 {
				side = domain.Ask
			}
			o := mkOrder(id, side, int64(90+rng.Intn(20)), int64(1+rng.Intn(100)), seq)
			require.NoError(t, b.Insert(o))
			ids = append(ids, id)
		case 2:
			if len(ids) > 0 {
				b.Remove(ids[rng.Intn(len(ids))])
			}
		}
		requireSorted(t, b)
	}
}

func TestBestBidAndAsk(t *testing.T) {
	b := New("CERT-2026")
	require.Nil(t, b.BestBid())
	require.Nil(t, b.BestAsk())

	require.NoError(t, b.Insert(mkOrder("b1", domain.Bid, 100, 10, 1)))
	require.NoError(t, b.Insert(mkOrder("b2", domain.Bid, 105, 10, 2)))
	require.NoError(t, b.Insert(mkOrder("b3", domain.Bid, 105, 10, 3)))
	require.NoError(t, b.Insert(mkOrder("a1", domain.Ask, 98, 10, 4)))
	require.NoError(t, b.Insert(mkOrder("a2", domain.Ask, 97, 10, 5)))

	require.Equal(t, "b2", b.BestBid().ID, "highest price, earliest seq wins")
	require.Equal(t, "a2", b.BestAsk().ID, "lowest price wins")
}

func TestReducePartialKeepsPosition(t *testing.T) {
	b := New("CERT-2026")
	require.NoError(t, b.Insert(mkOrder("b1", domain.Bid, 100, 10, 1)))
	require.NoError(t, b.Insert(mkOrder("b2", domain.Bid, 100, 10, 2)))
	require.NoError(t, b.Insert(mkOrder("b3", domain.Bid, 100, 10, 3)))

	o, err := b.Reduce("b2", 4)
	require.NoError(t, err)
	require.Equal(t, domain.PartiallyFilled, o.Status)
	require.Equal(t, int64(6), o.Remaining)

	bids := b.Bids()
	require.Equal(t, []string{"b1", "b2", "b3"}, []string{bids[0].ID, bids[1].ID, bids[2].ID},
		"partial fill must not reset time priority")
}

func TestReduceToZeroRemovesAndFills(t *testing.T) {
	b := New("CERT-2026")
	require.NoError(t, b.Insert(mkOrder("a1", domain.Ask, 95, 5, 1)))

	o, err := b.Reduce("a1", 5)
	require.NoError(t, err)
	require.Equal(t, domain.Filled, o.Status)
	require.Zero(t, o.Remaining)
	require.Nil(t, b.Get("a1"))
	require.Zero(t, b.Len())
}

func TestReduceInvariantViolations(t *testing.T) {
	b := New("CERT-2026")
	require.NoError(t, b.Insert(mkOrder("a1", domain.Ask, 95, 5, 1)))

	_, err := b.Reduce("a1", 6)
	require.ErrorIs(t, err, domain.ErrInvariant)

	_, err = b.Reduce("a1", 0)
	require.ErrorIs(t, err, domain.ErrInvariant)

	_, err = b.Reduce("missing", 1)
	require.ErrorIs(t, err, domain.ErrInvariant)
}

func TestRemoveAbsentIsReportedNoOp(t *testing.T) {
	b := New("CERT-2026")
	require.False(t, b.Remove("nope"))
	require.NoError(t, b.Insert(mkOrder("b1", domain.Bid, 100, 10, 1)))
	require.True(t, b.Remove("b1"))
	require.False(t, b.Remove("b1"))
}

func TestInsertRejections(t *testing.T) {
	b := New("CERT-2026")

	cancelled := mkOrder("c1", domain.Bid, 100, 10, 1)
	cancelled.Status = domain.Cancelled
	require.ErrorIs(t, b.Insert(cancelled), domain.ErrValidation)

	drained := mkOrder("d1", domain.Bid, 100, 10, 2)
	drained.Remaining = 0
	require.ErrorIs(t, b.Insert(drained), domain.ErrValidation)

	foreign := mkOrder("f1", domain.Bid, 100, 10, 3)
	foreign.ProductID = "OTHER"
	require.ErrorIs(t, b.Insert(foreign), domain.ErrValidation)

	require.NoError(t, b.Insert(mkOrder("b1", domain.Bid, 100, 10, 4)))
	require.ErrorIs(t, b.Insert(mkOrder("b1", domain.Bid, 100, 10, 5)), domain.ErrValidation)
}

func TestCheckDetectsCorruption(t *testing.T) {
	b := New("CERT-2026")
	require.NoError(t, b.Insert(mkOrder("b1", domain.Bid, 100, 10, 1)))
	require.NoError(t, b.Check())

	b.Get("b1").Remaining = -3
	require.ErrorIs(t, b.Check(), domain.ErrInvariant)
}

func TestSnapshotCopies(t *testing.T) {
	b := New("CERT-2026")
	require.NoError(t, b.Insert(mkOrder("b1", domain.Bid, 100, 10, 1)))
	require.NoError(t, b.Insert(mkOrder("a1", domain.Ask, 105, 4, 2)))

	snap := b.Snapshot()
	require.Equal(t, "CERT-2026", snap.ProductID)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)

	snap.Bids[0].Remaining = 1
	require.Equal(t, int64(10), b.Get("b1").Remaining, "snapshot must not alias book state")
}
