package core

import "errors"

// Error kinds surfaced by the balance engine and its collaborators. Handlers
// map these to HTTP statuses with errors.Is; storage wraps driver failures in
// ErrStorage so callers can distinguish "you asked wrong" from "the write
// failed".
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrOutOfRange        = errors.New("expense index out of range")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrStorage           = errors.New("storage failure")

	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
)
