package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TransferEntry is a journaled balance movement. The journal is an off-core
// record for display and reconciliation; the in-memory ledger remains the
// source of truth.
type TransferEntry struct {
	ID     int64
	From   string
	To     string
	Amount string // decimal string, 18-decimal fixed point
	Kind   TransferKind
	At     time.Time
}

// TransferStore persists the transfer journal.
type TransferStore interface {
	Insert(ctx context.Context, entry TransferEntry) error
	ListByAccount(ctx context.Context, address string, opts ListOpts) ([]TransferEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]TransferEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeEntry is a journaled trade lifecycle record keyed by item name plus a
// generated journal ID, so successive trades under the same item name never
// collide in the journal even though they do in the escrow registry.
type TradeEntry struct {
	ID           string // uuid
	ItemName     string
	ItemCategory string
	Buyer        string
	Seller       string
	Price        string
	Status       string
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

// TradeStore persists the trade journal.
type TradeStore interface {
	Insert(ctx context.Context, entry TradeEntry) error
	UpdateStatus(ctx context.Context, id string, status string, closedAt time.Time) error
	GetByID(ctx context.Context, id string) (TradeEntry, error)
	ListByItem(ctx context.Context, itemName string, opts ListOpts) ([]TradeEntry, error)
	ListByAccount(ctx context.Context, address string, opts ListOpts) ([]TradeEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
