package domain

import "errors"

// Core operation errors. Message text is part of the API contract: callers
// (and the legacy marketplace UI) match on the exact strings, most notably
// "Trade expired".
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidAmount         = errors.New("invalid amount")

	ErrTradeNotFound    = errors.New("trade not found")
	ErrTradeExpired     = errors.New("Trade expired")
	ErrTradeExists      = errors.New("trade already exists")
	ErrAlreadyCompleted = errors.New("trade already completed")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrValueNotAccepted = errors.New("value not accepted")
)

// Infrastructure errors shared across stores, caches, and transports.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrBadSignature = errors.New("invalid request signature")
	ErrReplayed     = errors.New("request nonce already used")
)
