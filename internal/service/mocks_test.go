package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/swingold/escrowd/internal/domain"
)

// fakeTransferStore records journal inserts in memory.
type fakeTransferStore struct {
	mu      sync.Mutex
	entries []domain.TransferEntry
	err     error
}

func (f *fakeTransferStore) Insert(_ context.Context, entry domain.TransferEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeTransferStore) ListByAccount(_ context.Context, address string, _ domain.ListOpts) ([]domain.TransferEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TransferEntry
	for _, e := range f.entries {
		if e.From == address || e.To == address {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTransferStore) ListBefore(_ context.Context, before time.Time) ([]domain.TransferEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TransferEntry
	for _, e := range f.entries {
		if e.At.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTransferStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.TransferEntry
	var deleted int64
	for _, e := range f.entries {
		if e.At.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return deleted, nil
}

// fakeTradeStore records trade journal rows in memory.
type fakeTradeStore struct {
	mu   sync.Mutex
	rows map[string]domain.TradeEntry
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{rows: make(map[string]domain.TradeEntry)}
}

func (f *fakeTradeStore) Insert(_ context.Context, entry domain.TradeEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[entry.ID] = entry
	return nil
}

func (f *fakeTradeStore) UpdateStatus(_ context.Context, id string, status string, closedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.Status = status
	row.ClosedAt = &closedAt
	f.rows[id] = row
	return nil
}

func (f *fakeTradeStore) GetByID(_ context.Context, id string) (domain.TradeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return domain.TradeEntry{}, domain.ErrNotFound
	}
	return row, nil
}

func (f *fakeTradeStore) ListByItem(_ context.Context, itemName string, _ domain.ListOpts) ([]domain.TradeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradeEntry
	for _, row := range f.rows {
		if row.ItemName == itemName {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListByAccount(_ context.Context, address string, _ domain.ListOpts) ([]domain.TradeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradeEntry
	for _, row := range f.rows {
		if row.Buyer == address || row.Seller == address {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.TradeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TradeEntry
	for _, row := range f.rows {
		if row.CreatedAt.Before(before) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, row := range f.rows {
		if row.CreatedAt.Before(before) {
			delete(f.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// fakeAuditStore collects audit events.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, domain.AuditEntry{
		ID:        int64(len(f.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeAuditStore) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, e := range f.entries {
		names = append(names, e.Event)
	}
	return names
}

// fakeBalanceCache is an in-memory domain.BalanceCache. Setting failSets
// makes every Set fail, simulating a cache outage.
type fakeBalanceCache struct {
	mu       sync.Mutex
	vals     map[string]*big.Int
	failSets bool
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{vals: make(map[string]*big.Int)}
}

func (f *fakeBalanceCache) Set(_ context.Context, address string, balance *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSets {
		return errors.New("cache unavailable")
	}
	f.vals[address] = new(big.Int).Set(balance)
	return nil
}

func (f *fakeBalanceCache) Get(_ context.Context, address string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return new(big.Int).Set(v), nil
}

func (f *fakeBalanceCache) Invalidate(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vals, address)
	return nil
}

// fakeBus records published payloads per channel.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan domain.BusSignal, error) {
	ch := make(chan domain.BusSignal)
	close(ch)
	return ch, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream = append(f.stream, payload)
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}
