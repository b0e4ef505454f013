package redis

import (
	"context"
	"fmt"
	"math/big"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/swingold/escrowd/internal/domain"
)

// balanceTTL bounds staleness if an invalidation is ever missed; the ledger
// is the source of truth and rewrites the key on every balance change.
const balanceTTL = 5 * time.Minute

// BalanceCache implements domain.BalanceCache using Redis strings. Balances
// are stored as decimal strings at key "balance:{address}" so arbitrary
// 256-bit amounts survive the round-trip exactly.
type BalanceCache struct {
	rdb *goredis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(address string) string {
	return "balance:" + address
}

// Set stores the latest observed balance for an address.
func (bc *BalanceCache) Set(ctx context.Context, address string, balance *big.Int) error {
	if balance == nil {
		balance = big.NewInt(0)
	}
	if err := bc.rdb.Set(ctx, balanceKey(address), balance.String(), balanceTTL).Err(); err != nil {
		return fmt.Errorf("redis: set balance %s: %w", address, err)
	}
	return nil
}

// Get retrieves the cached balance for an address. It returns
// domain.ErrNotFound when the key does not exist.
func (bc *BalanceCache) Get(ctx context.Context, address string) (*big.Int, error) {
	val, err := bc.rdb.Get(ctx, balanceKey(address)).Result()
	if err == goredis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get balance %s: %w", address, err)
	}

	n, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, fmt.Errorf("redis: get balance %s: malformed value %q", address, val)
	}
	return n, nil
}

// Invalidate drops the cached balance for an address.
func (bc *BalanceCache) Invalidate(ctx context.Context, address string) error {
	if err := bc.rdb.Del(ctx, balanceKey(address)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate balance %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
