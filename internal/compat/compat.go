package compat

import (
	"github.com/gridmarket/certex/internal/domain"
)

// Table is the static reference data behind the validators: which grid
// operators may deliver to each other and which device types are fungible.
// Keys are bid-side identifiers; values list the ask-side identifiers the
// key may trade against. Self-compatibility must be listed explicitly.
type Table struct {
	GridOperators map[string][]string
	DeviceTypes   map[string][]string
}

// Validator decides whether a bid/ask pair may legally trade. Implementations
// are pure and total: an unknown identifier yields false, never an error.
type Validator interface {
	Compatible(bid, ask *domain.Order) bool
}

// GridOperatorValidator admits a pair only when both operators are known and
// the ask's operator is listed for the bid's.
type GridOperatorValidator struct {
	table *Table
}

func NewGridOperatorValidator(t *Table) *GridOperatorValidator {
	return &GridOperatorValidator{table: t}
}

func (v *GridOperatorValidator) Compatible(bid, ask *domain.Order) bool {
	return allowed(v.table.GridOperators, bid.GridOperatorID, ask.GridOperatorID)
}

// DeviceTypeValidator admits a pair only when both device types are known and
// the ask's type is listed for the bid's.
type DeviceTypeValidator struct {
	table *Table
}

func NewDeviceTypeValidator(t *Table) *DeviceTypeValidator {
	return &DeviceTypeValidator{table: t}
}

func (v *DeviceTypeValidator) Compatible(bid, ask *domain.Order) bool {
	return allowed(v.table.DeviceTypes, bid.DeviceTypeID, ask.DeviceTypeID)
}

// All composes validators; every predicate must hold for a match to be legal.
type All []Validator

func (vs All) Compatible(bid, ask *domain.Order) bool {
	for _, v := range vs {
		if !v.Compatible(bid, ask) {
			return false
		}
	}
	return true
}

// ForTable builds the standard validator pair over one table. A nil table
// behaves like an empty one: nothing matches.
func ForTable(t *Table) Validator {
	if t == nil {
		t = &Table{}
	}
	return All{NewGridOperatorValidator(t), NewDeviceTypeValidator(t)}
}

// allowed fails closed: identifiers absent from the reference data never
// match, they are skipped rather than treated as a fault.
func allowed(m map[string][]string, from, to string) bool {
	peers, ok := m[from]
	if !ok {
		return false
	}
	if _, ok := m[to]; !ok {
		return false
	}
	for _, p := range peers {
		if p == to {
			return true
		}
	}
	return false
}
