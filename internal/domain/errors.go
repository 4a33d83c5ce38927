package domain

import "errors"

var (
	// ErrValidation rejects malformed submissions before they enter the book.
	ErrValidation = errors.New("validation failed")

	ErrNotFound        = errors.New("order not found")
	ErrNotOwner        = errors.New("requester is not the order owner")
	ErrAlreadyTerminal = errors.New("order is already terminal")

	// ErrInvariant marks internal book corruption. Matching halts for the
	// affected product only; retrying corrupted state risks duplicate trades.
	ErrInvariant = errors.New("book invariant violated")

	ErrProductHalted  = errors.New("matching halted for product")
	ErrUnknownProduct = errors.New("unknown product")
)
