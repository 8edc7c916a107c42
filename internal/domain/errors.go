package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrAlreadyClosed       = errors.New("position already closed")
	ErrLockHeld            = errors.New("lock already held")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrInvalidQuote        = errors.New("invalid quote")
	ErrNoModel             = errors.New("no model")
	ErrBudgetExhausted     = errors.New("budget exhausted")
	ErrTickInProgress      = errors.New("tick already in progress")
	ErrUnauthorized        = errors.New("unauthorized")
)
