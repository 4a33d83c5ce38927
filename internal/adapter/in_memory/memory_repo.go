package in_memory

import (
	"context"
	"sync"

	"github.com/gridmarket/certex/internal/compat"
	"github.com/gridmarket/certex/internal/domain"
	"github.com/gridmarket/certex/internal/port"
)

var _ port.Repository = (*MemoryRepo)(nil)

// MemoryRepo is the test double for the Postgres repository. Transactions
// buffer writes and apply them on Commit, mirroring the atomic-cycle
// guarantee of the real adapter.
type MemoryRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	trades []*domain.Trade
	table  *compat.Table
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders: make(map[string]*domain.Order),
	}
}

func (r *MemoryRepo) SetCompatibility(t *compat.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = t
}

func (r *MemoryRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepo) LoadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) LoadOpenOrders(ctx context.Context, productID string) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Order
	for _, o := range r.orders {
		if o.ProductID == productID && o.Open() && o.Remaining > 0 {
			res = append(res, o.Clone())
		}
	}
	return res, nil
}

func (r *MemoryRepo) LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Trade
	for _, t := range r.trades {
		if t.BidOrderID == orderID || t.AskOrderID == orderID {
			res = append(res, t)
		}
	}
	return res, nil
}

func (r *MemoryRepo) ListProducts(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var res []string
	for _, o := range r.orders {
		if !seen[o.ProductID] {
			seen[o.ProductID] = true
			res = append(res, o.ProductID)
		}
	}
	return res, nil
}

func (r *MemoryRepo) MaxOrderSeq(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max uint64
	for _, o := range r.orders {
		if o.Seq > max {
			max = o.Seq
		}
	}
	return max, nil
}

func (r *MemoryRepo) MaxTradeSeq(ctx context.Context, productID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max uint64
	for _, t := range r.trades {
		if t.ProductID == productID && t.Seq > max {
			max = t.Seq
		}
	}
	return max, nil
}

func (r *MemoryRepo) LoadCompatibility(ctx context.Context) (*compat.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table, nil
}

func (r *MemoryRepo) Trades() []*domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memoryTx{repo: r}, nil
}

type memoryTx struct {
	repo   *MemoryRepo
	orders []*domain.Order
	trades []*domain.Trade
	done   bool
}

func (t *memoryTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	t.orders = append(t.orders, o.Clone())
	return nil
}

func (t *memoryTx) SaveTrade(ctx context.Context, tr *domain.Trade) error {
	t.trades = append(t.trades, tr)
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, o := range t.orders {
		t.repo.orders[o.ID] = o
	}
	t.repo.trades = append(t.repo.trades, t.trades...)
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
