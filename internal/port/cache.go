package port

import (
	"context"

	"github.com/gridmarket/certex/internal/domain"
)

type Cache interface {
	SetDepth(ctx context.Context, productID string, snap *domain.BookSnapshot) error
	GetDepth(ctx context.Context, productID string) (*domain.BookSnapshot, error)
	Invalidate(ctx context.Context, productID string) error
}
