package crypto

import (
	"sync"
	"time"
)

// ReplayGuard rejects reuse of a (address, nonce) pair within a configurable
// time-to-live window, blocking signed-request replay. It is safe for
// concurrent use.
type ReplayGuard struct {
	seen      map[string]time.Time // address|nonce -> first seen time
	ttl       time.Duration
	lastSweep time.Time
	mu        sync.Mutex
}

// NewReplayGuard creates a ReplayGuard that considers a nonce burned for the
// given ttl. The ttl should comfortably exceed the accepted timestamp skew.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen:      make(map[string]time.Time),
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// Check returns false if the nonce has already been used by the address
// within the TTL window. Otherwise the nonce is recorded and true is
// returned. Expired entries are swept at most once per TTL so the map stays
// bounded without a background goroutine.
func (g *ReplayGuard) Check(address, nonce string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := address + "|" + nonce
	now := time.Now()
	if now.Sub(g.lastSweep) >= g.ttl {
		g.sweep(now)
	}
	if first, ok := g.seen[key]; ok && now.Sub(first) < g.ttl {
		return false
	}

	g.seen[key] = now
	return true
}

// sweep drops expired entries. Caller must hold the mutex.
func (g *ReplayGuard) sweep(now time.Time) {
	for key, ts := range g.seen {
		if now.Sub(ts) >= g.ttl {
			delete(g.seen, key)
		}
	}
	g.lastSweep = now
}
