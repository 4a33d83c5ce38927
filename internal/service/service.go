package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridmarket/certex/internal/book"
	"github.com/gridmarket/certex/internal/compat"
	"github.com/gridmarket/certex/internal/domain"
	"github.com/gridmarket/certex/internal/engine"
	"github.com/gridmarket/certex/internal/port"
)

// SubmitRequest carries a validated-upstream order submission. OrderID may be
// supplied by the caller for idempotent resubmission; when empty an id is
// assigned.
type SubmitRequest struct {
	OrderID        string
	OwnerID        string
	ProductID      string
	Side           domain.Side
	Price          int64
	Quantity       int64
	GridOperatorID string
	DeviceTypeID   string
}

// productState is the independently lockable unit of §5: one product's book,
// its halt flag and its trade sequence. Operations on different products
// never block each other.
type productState struct {
	mu           sync.Mutex
	book         *book.Book
	halted       bool
	lastTradeSeq uint64

	// version counts book mutations; bumped under mu and carried with every
	// depth snapshot so stale cache writes are dropped (see setDepth).
	version uint64

	cacheMu       sync.Mutex
	cachedVersion uint64
}

// OrderBookService is the orchestration layer: it validates submissions,
// assigns sequence numbers, owns the per-product books and delegates cycle
// execution to the matching engine. Repository, cache and publisher are
// nil-tolerant so the core runs standalone in tests.
type OrderBookService struct {
	repo  port.Repository
	cache port.Cache
	pub   port.Publisher
	log   *zap.Logger

	seq atomic.Uint64

	ruleMu sync.RWMutex
	rule   compat.Validator

	mu       sync.RWMutex
	products map[string]*productState
	orders   map[string]*domain.Order
	product  map[string]string // order id -> product id
}

func New(repo port.Repository, cache port.Cache, pub port.Publisher, table *compat.Table, log *zap.Logger) *OrderBookService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderBookService{
		repo:     repo,
		cache:    cache,
		pub:      pub,
		log:      log,
		rule:     compat.ForTable(table),
		products: make(map[string]*productState),
		orders:   make(map[string]*domain.Order),
		product:  make(map[string]string),
	}
}

// Recover rebuilds the in-memory books from the repository on startup and
// restores the sequence counters so determinism survives restarts.
func (s *OrderBookService) Recover(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	for _, p := range products {
		orders, err := s.repo.LoadOpenOrders(ctx, p)
		if err != nil {
			return fmt.Errorf("load open orders for %s: %w", p, err)
		}
		tradeSeq, err := s.repo.MaxTradeSeq(ctx, p)
		if err != nil {
			return fmt.Errorf("load trade seq for %s: %w", p, err)
		}
		ps := s.getOrCreateState(p)
		ps.mu.Lock()
		ps.lastTradeSeq = tradeSeq
		for _, o := range orders {
			if err := ps.book.Insert(o); err != nil {
				ps.mu.Unlock()
				return fmt.Errorf("restore order %s: %w", o.ID, err)
			}
			s.register(o)
		}
		ps.mu.Unlock()
		s.log.Info("book recovered",
			zap.String("product", p),
			zap.Int("orders", len(orders)),
			zap.Uint64("trade_seq", tradeSeq))
	}
	maxSeq, err := s.repo.MaxOrderSeq(ctx)
	if err != nil {
		return fmt.Errorf("load order seq: %w", err)
	}
	s.seq.Store(maxSeq)
	if table, err := s.repo.LoadCompatibility(ctx); err == nil && table != nil {
		s.ReloadCompatibility(table)
	}
	return nil
}

// Submit validates the structural fields, assigns the submission sequence
// number and rests the order in its product's book. Matching is not run
// here; the runner triggers cycles separately.
func (s *OrderBookService) Submit(ctx context.Context, req SubmitRequest) (*domain.Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.OrderID != "" {
		if existing := s.orderView(req.OrderID); existing != nil {
			return existing, nil
		}
	}

	o := &domain.Order{
		ID:             req.OrderID,
		OwnerID:        req.OwnerID,
		ProductID:      req.ProductID,
		Side:           req.Side,
		Price:          req.Price,
		Quantity:       req.Quantity,
		Remaining:      req.Quantity,
		GridOperatorID: req.GridOperatorID,
		DeviceTypeID:   req.DeviceTypeID,
		Status:         domain.Active,
		CreatedAt:      time.Now(),
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	ps := s.getOrCreateState(req.ProductID)
	ps.mu.Lock()
	o.Seq = s.seq.Add(1)
	if err := ps.book.Insert(o); err != nil {
		ps.mu.Unlock()
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.SaveOrder(ctx, o); err != nil {
			ps.book.Remove(o.ID)
			ps.mu.Unlock()
			return nil, fmt.Errorf("persist order %s: %w", o.ID, err)
		}
	}
	ps.version++
	snap, ver := ps.book.Snapshot(), ps.version
	view := o.Clone()
	ps.mu.Unlock()

	s.register(o)
	s.setDepth(ctx, ps, snap, ver)
	return view, nil
}

// Cancel removes an open order from its book. Only the owner may cancel and
// a terminal order stays untouched.
func (s *OrderBookService) Cancel(ctx context.Context, orderID, requesterID string) error {
	s.mu.RLock()
	o := s.orders[orderID]
	productID := s.product[orderID]
	s.mu.RUnlock()
	if o == nil {
		return domain.ErrNotFound
	}
	if o.OwnerID != requesterID {
		return domain.ErrNotOwner
	}

	ps := s.getOrCreateState(productID)
	ps.mu.Lock()
	if o.Terminal() {
		ps.mu.Unlock()
		return domain.ErrAlreadyTerminal
	}
	if s.repo != nil {
		staged := o.Clone()
		staged.Status = domain.Cancelled
		if err := s.repo.SaveOrder(ctx, staged); err != nil {
			ps.mu.Unlock()
			return fmt.Errorf("persist cancel of %s: %w", orderID, err)
		}
	}
	ps.book.Remove(orderID)
	o.Status = domain.Cancelled
	ps.version++
	snap, ver := ps.book.Snapshot(), ps.version
	ps.mu.Unlock()

	s.setDepth(ctx, ps, snap, ver)
	return nil
}

// RunMatchingCycle is the runner's entry point. It plans one full cycle for
// the product, persists the cycle atomically, applies the fills to the book
// and publishes the executed trades. Calling it with nothing crossed or
// compatible is a no-op returning an empty list.
func (s *OrderBookService) RunMatchingCycle(ctx context.Context, productID string) ([]*domain.Trade, error) {
	ps := s.getOrCreateState(productID)
	ps.mu.Lock()
	trades, snap, ver, err := s.runCycleLocked(ctx, productID, ps)
	ps.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return trades, nil
	}

	s.setDepth(ctx, ps, snap, ver)
	if s.pub != nil {
		if err := s.pub.PublishTrades(ctx, trades); err != nil {
			// At-least-once: the trades are committed, delivery retries are
			// the publisher's concern. Surface for the operator only.
			s.log.Error("trade publish failed",
				zap.String("product", productID), zap.Error(err))
		}
	}
	return trades, nil
}

func (s *OrderBookService) runCycleLocked(ctx context.Context, productID string, ps *productState) ([]*domain.Trade, *domain.BookSnapshot, uint64, error) {
	if ps.halted {
		return nil, nil, 0, fmt.Errorf("%w: %s", domain.ErrProductHalted, productID)
	}

	matcher := engine.NewMatcher(s.currentRule(), s.log)
	res, err := matcher.Run(ps.book, ps.lastTradeSeq)
	if err != nil {
		ps.halted = true
		s.log.Error("matching halted",
			zap.String("product", productID), zap.Error(err))
		return nil, nil, 0, err
	}
	if len(res.Trades) == 0 {
		return []*domain.Trade{}, nil, 0, nil
	}

	if s.repo != nil {
		if err := s.persistCycle(ctx, ps, res); err != nil {
			return nil, nil, 0, fmt.Errorf("persist cycle for %s: %w", productID, err)
		}
	}

	for orderID, qty := range res.Fills {
		if _, err := ps.book.Reduce(orderID, qty); err != nil {
			ps.halted = true
			s.log.Error("matching halted",
				zap.String("product", productID), zap.Error(err))
			return nil, nil, 0, err
		}
	}
	ps.lastTradeSeq = res.Trades[len(res.Trades)-1].Seq
	ps.version++

	s.log.Info("matching cycle complete",
		zap.String("product", productID),
		zap.Int("trades", len(res.Trades)))
	return res.Trades, ps.book.Snapshot(), ps.version, nil
}

// persistCycle writes the cycle's order mutations and trades in one
// transaction. The book has not been touched yet, so a failed commit leaves
// memory and storage agreeing.
func (s *OrderBookService) persistCycle(ctx context.Context, ps *productState, res *engine.Result) error {
	return withTx(ctx, s.repo, func(tx port.Tx) error {
		for orderID, qty := range res.Fills {
			o := ps.book.Get(orderID)
			if o == nil {
				return fmt.Errorf("%w: planned fill for absent order %s", domain.ErrInvariant, orderID)
			}
			staged := o.Clone()
			staged.Remaining -= qty
			if staged.Remaining == 0 {
				staged.Status = domain.Filled
			} else {
				staged.Status = domain.PartiallyFilled
			}
			if err := tx.SaveOrder(ctx, staged); err != nil {
				return err
			}
		}
		for _, t := range res.Trades {
			if err := tx.SaveTrade(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReloadCompatibility swaps the reference table. Cycles already running keep
// the validator they started with; the new table applies from the next cycle.
func (s *OrderBookService) ReloadCompatibility(table *compat.Table) {
	s.ruleMu.Lock()
	s.rule = compat.ForTable(table)
	s.ruleMu.Unlock()
	s.log.Info("compatibility table reloaded")
}

func (s *OrderBookService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if o := s.orderView(orderID); o != nil {
		return o, nil
	}
	if s.repo != nil {
		if o, err := s.repo.LoadOrder(ctx, orderID); err == nil && o != nil {
			return o, nil
		}
	}
	return nil, domain.ErrNotFound
}

// orderView clones a tracked order under its product's lock. Order state is
// only ever mutated with the product lock held, so a view taken here can
// never expose a cycle or cancel mid-application.
func (s *OrderBookService) orderView(orderID string) *domain.Order {
	s.mu.RLock()
	o := s.orders[orderID]
	productID := s.product[orderID]
	s.mu.RUnlock()
	if o == nil {
		return nil
	}
	ps := s.getOrCreateState(productID)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return o.Clone()
}

func (s *OrderBookService) TradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.LoadTradesForOrder(ctx, orderID)
}

// Depth serves the order book view, cache first.
func (s *OrderBookService) Depth(ctx context.Context, productID string) (*domain.BookSnapshot, error) {
	if s.cache != nil {
		if snap, err := s.cache.GetDepth(ctx, productID); err == nil && snap != nil {
			return snap, nil
		}
	}
	s.mu.RLock()
	ps := s.products[productID]
	s.mu.RUnlock()
	if ps == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, productID)
	}
	ps.mu.Lock()
	snap := ps.book.Snapshot()
	ps.mu.Unlock()
	return snap, nil
}

func (s *OrderBookService) currentRule() compat.Validator {
	s.ruleMu.RLock()
	defer s.ruleMu.RUnlock()
	return s.rule
}

func (s *OrderBookService) getOrCreateState(productID string) *productState {
	s.mu.RLock()
	ps, ok := s.products[productID]
	s.mu.RUnlock()
	if ok {
		return ps
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok = s.products[productID]; !ok {
		ps = &productState{book: book.New(productID)}
		s.products[productID] = ps
	}
	return ps
}

func (s *OrderBookService) register(o *domain.Order) {
	s.mu.Lock()
	s.orders[o.ID] = o
	s.product[o.ID] = o.ProductID
	s.mu.Unlock()
}

// setDepth publishes a depth snapshot after the product lock is released.
// The version captured with the snapshot orders the writes: a snapshot taken
// before one already cached is dropped instead of rolling the cache back.
func (s *OrderBookService) setDepth(ctx context.Context, ps *productState, snap *domain.BookSnapshot, ver uint64) {
	if s.cache == nil || snap == nil {
		return
	}
	ps.cacheMu.Lock()
	defer ps.cacheMu.Unlock()
	if ver <= ps.cachedVersion {
		return
	}
	if err := s.cache.SetDepth(ctx, snap.ProductID, snap); err != nil {
		s.log.Warn("depth cache update failed",
			zap.String("product", snap.ProductID), zap.Error(err))
		return
	}
	ps.cachedVersion = ver
}

func validate(req SubmitRequest) error {
	switch req.Side {
	case domain.Bid, domain.Ask:
	default:
		return fmt.Errorf("%w: invalid side %q", domain.ErrValidation, req.Side)
	}
	if req.Price <= 0 {
		return fmt.Errorf("%w: price must be > 0", domain.ErrValidation)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", domain.ErrValidation)
	}
	if req.OwnerID == "" || req.ProductID == "" {
		return fmt.Errorf("%w: owner and product are required", domain.ErrValidation)
	}
	if req.GridOperatorID == "" || req.DeviceTypeID == "" {
		return fmt.Errorf("%w: grid operator and device type are required", domain.ErrValidation)
	}
	return nil
}
