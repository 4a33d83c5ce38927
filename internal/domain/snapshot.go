package domain

import "time"

// BookSnapshot is a read-only depth view of one product's book.
type BookSnapshot struct {
	ProductID string
	Bids      []Order
	Asks      []Order
	Timestamp time.Time
}
