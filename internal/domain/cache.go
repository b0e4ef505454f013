package domain

import (
	"context"
	"math/big"
	"time"
)

// BalanceCache exposes recently observed balances to out-of-process readers.
// Entries are written through on every balance-affecting operation; the
// in-process query path reads the ledger directly.
type BalanceCache interface {
	Set(ctx context.Context, address string, balance *big.Int) error
	Get(ctx context.Context, address string) (*big.Int, error)
	Invalidate(ctx context.Context, address string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BusSignal is one pub/sub delivery. Channel is the concrete channel the
// payload was published to, even when the subscription used a pattern.
type BusSignal struct {
	Channel string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for event distribution.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusSignal, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
