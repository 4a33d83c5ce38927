package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridmarket/certex/internal/book"
	"github.com/gridmarket/certex/internal/compat"
	"github.com/gridmarket/certex/internal/domain"
)

// tradeNamespace seeds name-based trade ids so a replayed command log emits
// an identical trade sequence.
var tradeNamespace = uuid.MustParse("9f2c1a84-0d3e-4b7a-9f55-3f6f1d2ab901")

// Result is one matching cycle's outcome, computed without touching the
// book. Fills maps order id to the total quantity consumed this cycle; the
// caller applies the fills only after the cycle has been durably persisted.
type Result struct {
	Trades []*domain.Trade
	Fills  map[string]int64
}

// Matcher executes price-time priority matching under compatibility
// constraints for a single product's book.
type Matcher struct {
	rule compat.Validator
	log  *zap.Logger
}

func NewMatcher(rule compat.Validator, log *zap.Logger) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{rule: rule, log: log}
}

// Run plans one full matching cycle: it repeatedly finds the best crossed,
// compatible bid/ask pair and records an execution, stopping when none
// remains. An incompatible pair at the front of a queue is skipped, not
// retried, so it cannot block deeper compatible orders on the other side.
// The book is read but never mutated.
func (m *Matcher) Run(b *book.Book, lastTradeSeq uint64) (*Result, error) {
	if err := b.Check(); err != nil {
		return nil, err
	}

	res := &Result{Fills: make(map[string]int64)}
	seq := lastTradeSeq

	for {
		bid, ask, err := m.findPair(b, res.Fills)
		if err != nil {
			return nil, err
		}
		if bid == nil {
			return res, nil
		}

		qty := min(remaining(bid, res.Fills), remaining(ask, res.Fills))
		if qty <= 0 {
			return nil, fmt.Errorf("%w: planned zero-quantity execution %s/%s",
				domain.ErrInvariant, bid.ID, ask.ID)
		}

		// Maker price: the order that was resting first quotes the price.
		price := bid.Price
		if ask.Seq < bid.Seq {
			price = ask.Price
		}

		seq++
		res.Trades = append(res.Trades, &domain.Trade{
			ID:         tradeID(b.ProductID(), bid.Seq, ask.Seq, seq),
			ProductID:  b.ProductID(),
			BidOrderID: bid.ID,
			AskOrderID: ask.ID,
			Price:      price,
			Quantity:   qty,
			Seq:        seq,
			ExecutedAt: time.Now(),
		})
		res.Fills[bid.ID] += qty
		res.Fills[ask.ID] += qty
	}
}

// findPair scans bids in priority order and, per bid, the asks that cross
// it, returning the first compatible pair with quantity left under the
// planned fills. A nil bid means the cycle is complete.
func (m *Matcher) findPair(b *book.Book, fills map[string]int64) (*domain.Order, *domain.Order, error) {
	asks := b.Asks()
	for _, bid := range b.Bids() {
		if remaining(bid, fills) == 0 {
			continue
		}
		if len(asks) == 0 || asks[0].Price > bid.Price {
			// Bids are sorted by price descending: if the best ask does not
			// cross this bid it crosses none of the later ones either.
			return nil, nil, nil
		}
		for _, ask := range asks {
			if ask.Price > bid.Price {
				break
			}
			if remaining(ask, fills) == 0 {
				continue
			}
			if !m.rule.Compatible(bid, ask) {
				m.log.Debug("incompatible pair skipped",
					zap.String("product", b.ProductID()),
					zap.String("bid", bid.ID),
					zap.String("ask", ask.ID))
				continue
			}
			return bid, ask, nil
		}
	}
	return nil, nil, nil
}

// remaining is the order's quantity net of fills already planned this cycle.
func remaining(o *domain.Order, fills map[string]int64) int64 {
	return o.Remaining - fills[o.ID]
}

func tradeID(productID string, bidSeq, askSeq, tradeSeq uint64) string {
	name := fmt.Sprintf("%s:%d:%d:%d", productID, bidSeq, askSeq, tradeSeq)
	return uuid.NewSHA1(tradeNamespace, []byte(name)).String()
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
