package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridmarket/certex/internal/domain"
)

// The JSON surface carries decimal amounts; the engine core only ever sees
// integers. Prices are currency units converted to minor units (cents),
// energy volumes are MWh converted to Wh.
const (
	PriceScale  = 2
	EnergyScale = 6
)

type Side string

const (
	Bid Side = "BID"
	Ask Side = "ASK"
)

type SubmitOrderRequest struct {
	OrderID        string          `json:"order_id,omitempty"` // client-supplied for idempotent resubmission
	OwnerID        string          `json:"owner_id" binding:"required"`
	ProductID      string          `json:"product_id" binding:"required"`
	Side           Side            `json:"side" binding:"required"`
	Price          decimal.Decimal `json:"price" binding:"required"`
	Volume         decimal.Decimal `json:"volume" binding:"required"`
	GridOperatorID string          `json:"grid_operator_id" binding:"required"`
	DeviceTypeID   string          `json:"device_type_id" binding:"required"`
}

type SubmitOrderResponse struct {
	OrderID   string          `json:"order_id"`
	Seq       uint64          `json:"seq"`
	Status    string          `json:"status"`
	Remaining decimal.Decimal `json:"remaining"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	OwnerID string `json:"owner_id" binding:"required"`
}

type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message,omitempty"`
}

type MatchResponse struct {
	ProductID string  `json:"product_id"`
	Trades    []Trade `json:"trades"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

type GetTradesResponse struct {
	Trades []Trade `json:"trades"`
}

type GetOrderbookResponse struct {
	ProductID string    `json:"product_id"`
	Bids      []Order   `json:"bids"`
	Asks      []Order   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

type ReloadCompatibilityRequest struct {
	GridOperators map[string][]string `json:"grid_operators" binding:"required"`
	DeviceTypes   map[string][]string `json:"device_types" binding:"required"`
}

type Order struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	ProductID      string          `json:"product_id"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Volume         decimal.Decimal `json:"volume"`
	Remaining      decimal.Decimal `json:"remaining"`
	GridOperatorID string          `json:"grid_operator_id"`
	DeviceTypeID   string          `json:"device_type_id"`
	Seq            uint64          `json:"seq"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Trade struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	BidOrderID string          `json:"bid_order_id"`
	AskOrderID string          `json:"ask_order_id"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	Seq        uint64          `json:"seq"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// ToUnits converts a decimal amount to integer units at the given scale,
// rejecting anything that does not convert exactly.
func ToUnits(d decimal.Decimal, scale int32) (int64, error) {
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d, scale)
	}
	v := shifted.IntPart()
	if !shifted.Equal(decimal.NewFromInt(v)) {
		return 0, fmt.Errorf("amount %s out of range", d)
	}
	return v, nil
}

func FromUnits(v int64, scale int32) decimal.Decimal {
	return decimal.NewFromInt(v).Shift(-scale)
}

func FromDomainOrder(o *domain.Order) Order {
	return Order{
		ID:             o.ID,
		OwnerID:        o.OwnerID,
		ProductID:      o.ProductID,
		Side:           Side(o.Side),
		Price:          FromUnits(o.Price, PriceScale),
		Volume:         FromUnits(o.Quantity, EnergyScale),
		Remaining:      FromUnits(o.Remaining, EnergyScale),
		GridOperatorID: o.GridOperatorID,
		DeviceTypeID:   o.DeviceTypeID,
		Seq:            o.Seq,
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
	}
}

func FromDomainOrders(orders []domain.Order) []Order {
	res := make([]Order, len(orders))
	for i := range orders {
		res[i] = FromDomainOrder(&orders[i])
	}
	return res
}

func FromDomainTrade(t *domain.Trade) Trade {
	return Trade{
		ID:         t.ID,
		ProductID:  t.ProductID,
		BidOrderID: t.BidOrderID,
		AskOrderID: t.AskOrderID,
		Price:      FromUnits(t.Price, PriceScale),
		Volume:     FromUnits(t.Quantity, EnergyScale),
		Seq:        t.Seq,
		ExecutedAt: t.ExecutedAt,
	}
}

func FromDomainTrades(trades []*domain.Trade) []Trade {
	res := make([]Trade, len(trades))
	for i, t := range trades {
		res[i] = FromDomainTrade(t)
	}
	return res
}
