package shared

import "errors"

// Domain error kinds shared by every engine module. Services wrap these
// with context; the HTTP layer maps them onto status codes.
var (
	// ErrNotFound indicates an unknown identifier.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates an illegal state-machine move.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInsufficientStock indicates a deduction larger than available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverReceipt indicates a receipt exceeding the ordered quantity.
	ErrOverReceipt = errors.New("received quantity exceeds ordered quantity")
	// ErrDuplicateBatch indicates batch number reuse for the same item.
	ErrDuplicateBatch = errors.New("duplicate batch number for item")
	// ErrNegativeResult indicates an adjustment that would drive quantity below zero.
	ErrNegativeResult = errors.New("adjustment would result in negative quantity")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
)
