package port

import (
	"context"

	"github.com/gridmarket/certex/internal/domain"
)

// Publisher hands executed trades to settlement and notification
// collaborators. Delivery is at-least-once; consumers deduplicate by trade id.
type Publisher interface {
	PublishTrades(ctx context.Context, trades []*domain.Trade) error
}
