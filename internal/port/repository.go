package port

import (
	"context"

	"github.com/gridmarket/certex/internal/compat"
	"github.com/gridmarket/certex/internal/domain"
)

type Repository interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	LoadOrder(ctx context.Context, orderID string) (*domain.Order, error)
	LoadOpenOrders(ctx context.Context, productID string) ([]*domain.Order, error)
	LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error)
	ListProducts(ctx context.Context) ([]string, error)
	MaxOrderSeq(ctx context.Context) (uint64, error)
	MaxTradeSeq(ctx context.Context, productID string) (uint64, error)
	LoadCompatibility(ctx context.Context) (*compat.Table, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx persists one matching cycle as a single atomic unit: every order
// mutation and every trade of the cycle commit together or not at all.
type Tx interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	SaveTrade(ctx context.Context, t *domain.Trade) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
