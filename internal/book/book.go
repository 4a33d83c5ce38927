package book

import (
	"fmt"
	"sort"
	"time"

	"github.com/gridmarket/certex/internal/domain"
)

// Book holds the active orders of one product. Bids are kept sorted by
// (price desc, seq asc), asks by (price asc, seq asc). The book is not
// thread-safe; callers serialize access per product.
type Book struct {
	productID string
	bids      []*domain.Order
	asks      []*domain.Order
	byID      map[string]*domain.Order
}

func New(productID string) *Book {
	return &Book{
		productID: productID,
		byID:      make(map[string]*domain.Order),
	}
}

func (b *Book) ProductID() string { return b.productID }

// Insert adds an open order to its side. Fresh submissions arrive Active;
// recovery re-inserts partially filled orders. Terminal orders and orders
// with non-positive remaining quantity never enter the book.
func (b *Book) Insert(o *domain.Order) error {
	if !o.Open() {
		return fmt.Errorf("%w: insert with status %s", domain.ErrValidation, o.Status)
	}
	if o.Remaining <= 0 {
		return fmt.Errorf("%w: insert with remaining %d", domain.ErrValidation, o.Remaining)
	}
	if o.ProductID != b.productID {
		return fmt.Errorf("%w: order %s belongs to product %s", domain.ErrValidation, o.ID, o.ProductID)
	}
	if _, ok := b.byID[o.ID]; ok {
		return fmt.Errorf("%w: duplicate order %s", domain.ErrValidation, o.ID)
	}
	b.byID[o.ID] = o
	if o.Side == domain.Bid {
		b.bids = append(b.bids, o)
		b.sortBids()
	} else {
		b.asks = append(b.asks, o)
		b.sortAsks()
	}
	return nil
}

// BestBid returns the highest-priced, oldest bid without removing it.
func (b *Book) BestBid() *domain.Order {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// BestAsk returns the lowest-priced, oldest ask without removing it.
func (b *Book) BestAsk() *domain.Order {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0]
}

// Get returns a resting order by id, or nil.
func (b *Book) Get(orderID string) *domain.Order {
	return b.byID[orderID]
}

// Remove takes an order out of the book. Removing an absent order is a
// reported no-op, not a fault.
func (b *Book) Remove(orderID string) bool {
	o, ok := b.byID[orderID]
	if !ok {
		return false
	}
	delete(b.byID, orderID)
	if o.Side == domain.Bid {
		b.bids = splice(b.bids, orderID)
	} else {
		b.asks = splice(b.asks, orderID)
	}
	return true
}

// Reduce decrements an order's remaining quantity by the filled amount.
// A fully consumed order is removed and marked Filled; a partial fill marks
// PartiallyFilled and keeps the order's position, so price-time priority is
// never reset by a partial fill.
func (b *Book) Reduce(orderID string, filled int64) (*domain.Order, error) {
	o, ok := b.byID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: reduce on absent order %s", domain.ErrInvariant, orderID)
	}
	if filled <= 0 || filled > o.Remaining {
		return nil, fmt.Errorf("%w: reduce order %s by %d with remaining %d",
			domain.ErrInvariant, orderID, filled, o.Remaining)
	}
	o.Remaining -= filled
	if o.Remaining == 0 {
		o.Status = domain.Filled
		b.Remove(orderID)
	} else {
		o.Status = domain.PartiallyFilled
	}
	return o, nil
}

// Bids returns the bid queue in priority order. The slice is a copy; the
// orders are the live book entries.
func (b *Book) Bids() []*domain.Order {
	out := make([]*domain.Order, len(b.bids))
	copy(out, b.bids)
	return out
}

func (b *Book) Asks() []*domain.Order {
	out := make([]*domain.Order, len(b.asks))
	copy(out, b.asks)
	return out
}

func (b *Book) Len() int { return len(b.byID) }

// Snapshot copies the book into a depth view for caching and queries.
func (b *Book) Snapshot() *domain.BookSnapshot {
	snap := &domain.BookSnapshot{
		ProductID: b.productID,
		Bids:      make([]domain.Order, len(b.bids)),
		Asks:      make([]domain.Order, len(b.asks)),
		Timestamp: time.Now(),
	}
	for i, o := range b.bids {
		snap.Bids[i] = *o
	}
	for i, o := range b.asks {
		snap.Asks[i] = *o
	}
	return snap
}

// Check verifies the per-order invariants the matcher relies on.
func (b *Book) Check() error {
	for id, o := range b.byID {
		if o.Remaining <= 0 || o.Remaining > o.Quantity || o.Price <= 0 {
			return fmt.Errorf("%w: order %s price=%d remaining=%d quantity=%d",
				domain.ErrInvariant, id, o.Price, o.Remaining, o.Quantity)
		}
		if !o.Open() {
			return fmt.Errorf("%w: terminal order %s resting in book", domain.ErrInvariant, id)
		}
	}
	return nil
}

func (b *Book) sortBids() {
	sort.SliceStable(b.bids, func(i, j int) bool {
		if b.bids[i].Price != b.bids[j].Price {
			return b.bids[i].Price > b.bids[j].Price
		}
		return b.bids[i].Seq < b.bids[j].Seq
	})
}

func (b *Book) sortAsks() {
	sort.SliceStable(b.asks, func(i, j int) bool {
		if b.asks[i].Price != b.asks[j].Price {
			return b.asks[i].Price < b.asks[j].Price
		}
		return b.asks[i].Seq < b.asks[j].Seq
	})
}

func splice(orders []*domain.Order, orderID string) []*domain.Order {
	for i, o := range orders {
		if o.ID == orderID {
			return append(orders[:i], orders[i+1:]...)
		}
	}
	return orders
}
