package domain

import (
	"time"
)

type Side string
type OrderStatus string

const (
	Bid Side = "BID"
	Ask Side = "ASK"

	Active          OrderStatus = "ACTIVE"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Cancelled       OrderStatus = "CANCELLED"
)

// Order is a limit order for a tradable energy volume. Price is in currency
// minor units per MWh, Quantity and Remaining are in Wh. Seq is assigned once
// at submission and is the sole tie-break source for matching.
type Order struct {
	ID             string
	OwnerID        string
	ProductID      string
	Side           Side
	Price          int64
	Quantity       int64
	Remaining      int64
	GridOperatorID string
	DeviceTypeID   string
	Seq            uint64
	Status         OrderStatus
	CreatedAt      time.Time
}

func (o *Order) Terminal() bool {
	return o.Status == Filled || o.Status == Cancelled
}

func (o *Order) Open() bool {
	return o.Status == Active || o.Status == PartiallyFilled
}

// Clone returns an independent copy, used when order state must be staged
// for persistence before the in-memory book is touched.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}
