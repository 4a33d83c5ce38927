package domain

import "time"

// Trade is an immutable record of one execution. Seq is scoped per product
// and strictly increasing, so replaying the same command log reproduces the
// same trade sequence.
type Trade struct {
	ID         string
	ProductID  string
	BidOrderID string
	AskOrderID string
	Price      int64
	Quantity   int64
	Seq        uint64
	ExecutedAt time.Time
}
