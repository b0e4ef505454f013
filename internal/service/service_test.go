package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swingold/escrowd/internal/domain"
	"github.com/swingold/escrowd/internal/escrow"
	"github.com/swingold/escrowd/internal/ledger"
	"github.com/swingold/escrowd/internal/notify"
)

var (
	svcOwner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	svcBuyer  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	svcSeller = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	svcEscrow = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func gold(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type capturedNotification struct {
	event   string
	payload []byte
}

type fakeSender struct {
	mu   sync.Mutex
	sent []capturedNotification
}

func (f *fakeSender) Send(_ context.Context, event string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, capturedNotification{event: event, payload: payload})
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLedgerServiceMintJournalsAndCaches(t *testing.T) {
	core := ledger.New(svcOwner)
	journal := &fakeTransferStore{}
	cache := newFakeBalanceCache()
	audit := &fakeAuditStore{}
	svc := NewLedgerService(core, journal, cache, audit, discardLogger())

	ctx := context.Background()
	require.NoError(t, svc.Mint(ctx, svcOwner, svcBuyer, gold(10000)))

	require.Len(t, journal.entries, 1)
	assert.Equal(t, common.Address{}.Hex(), journal.entries[0].From)
	assert.Equal(t, svcBuyer.Hex(), journal.entries[0].To)
	assert.Equal(t, gold(10000).String(), journal.entries[0].Amount)
	assert.Equal(t, domain.KindMint, journal.entries[0].Kind)

	cached, err := cache.Get(ctx, svcBuyer.Hex())
	require.NoError(t, err)
	assert.Zero(t, cached.Cmp(gold(10000)))

	assert.Equal(t, []string{domain.EventTypeMint}, audit.eventNames())
}

func TestLedgerServiceTransferJournalsBothSides(t *testing.T) {
	core := ledger.New(svcOwner)
	journal := &fakeTransferStore{}
	svc := NewLedgerService(core, journal, nil, nil, discardLogger())

	ctx := context.Background()
	require.NoError(t, svc.Mint(ctx, svcOwner, svcBuyer, gold(500)))
	require.NoError(t, svc.Transfer(ctx, svcBuyer, svcSeller, gold(200)))

	entries, err := svc.Journal(ctx, svcSeller, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.KindTransfer, entries[0].Kind)
	assert.Equal(t, gold(200).String(), entries[0].Amount)
}

func TestLedgerServiceBalanceOfIgnoresStaleCache(t *testing.T) {
	core := ledger.New(svcOwner)
	cache := newFakeBalanceCache()
	svc := NewLedgerService(core, nil, cache, nil, discardLogger())

	ctx := context.Background()
	require.NoError(t, core.Mint(svcOwner, svcBuyer, gold(100)))
	// A stale cached value must never shadow the ledger.
	require.NoError(t, cache.Set(ctx, svcBuyer.Hex(), gold(42)))

	assert.Zero(t, svc.BalanceOf(ctx, svcBuyer).Cmp(gold(100)))

	// The read refreshes the cached copy for out-of-process readers.
	cached, err := cache.Get(ctx, svcBuyer.Hex())
	require.NoError(t, err)
	assert.Zero(t, cached.Cmp(gold(100)))
}

func TestLedgerServiceInvalidatesCacheOnFailedWriteThrough(t *testing.T) {
	core := ledger.New(svcOwner)
	cache := newFakeBalanceCache()
	svc := NewLedgerService(core, nil, cache, nil, discardLogger())

	ctx := context.Background()
	require.NoError(t, svc.Mint(ctx, svcOwner, svcBuyer, gold(500)))

	cache.failSets = true
	require.NoError(t, svc.Mint(ctx, svcOwner, svcBuyer, gold(1)))

	// The write-through failed, so the old cached balance must be gone
	// rather than served until its TTL runs out.
	_, err := cache.Get(ctx, svcBuyer.Hex())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func newTradeFixture(t *testing.T) (*LedgerService, *TradeService, *fakeTradeStore, *fakeSender) {
	t.Helper()

	core := ledger.New(svcOwner)
	manager := escrow.NewManager(core, svcEscrow)

	require.NoError(t, core.Mint(svcOwner, svcBuyer, gold(10000)))
	require.NoError(t, core.Approve(svcBuyer, svcEscrow, gold(10000)))

	journal := newFakeTradeStore()
	sender := &fakeSender{}
	notifier := notify.NewNotifier([]notify.Sender{sender}, nil, discardLogger())

	ledgerSvc := NewLedgerService(core, nil, nil, nil, discardLogger())
	tradeSvc := NewTradeService(manager, journal, &fakeAuditStore{}, notifier, discardLogger())
	return ledgerSvc, tradeSvc, journal, sender
}

func TestTradeServiceLifecycleCompletes(t *testing.T) {
	ledgerSvc, tradeSvc, journal, sender := newTradeFixture(t)
	ctx := context.Background()

	trade, err := tradeSvc.Create(ctx, escrow.CreateParams{
		Buyer: svcBuyer, Seller: svcSeller,
		ItemName: "Book", ItemCategory: "Education", Price: gold(200),
	})
	require.NoError(t, err)
	assert.Equal(t, "Book", trade.ItemName)

	rows, err := journal.ListByItem(ctx, "Book", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pending", rows[0].Status)

	require.NoError(t, tradeSvc.Confirm(ctx, svcBuyer, "Book"))

	rows, err = journal.ListByItem(ctx, "Book", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "completed", rows[0].Status)
	require.NotNil(t, rows[0].ClosedAt)

	// Settlement reached the seller.
	assert.Zero(t, ledgerSvc.BalanceOf(ctx, svcSeller).Cmp(gold(200)))

	// The marketplace backend was told the trade completed.
	require.Len(t, sender.sent, 1)
	assert.Equal(t, domain.EventTypeTradeCompleted, sender.sent[0].event)
	var view domain.TradeView
	require.NoError(t, json.Unmarshal(sender.sent[0].payload, &view))
	assert.Equal(t, "Book", view.ItemName)
	assert.Equal(t, "completed", view.Status)
}

func TestTradeServiceCancelNotifiesWithoutSettling(t *testing.T) {
	ledgerSvc, tradeSvc, journal, sender := newTradeFixture(t)
	ctx := context.Background()

	_, err := tradeSvc.Create(ctx, escrow.CreateParams{
		Buyer: svcBuyer, Seller: svcSeller,
		ItemName: "Bag", ItemCategory: "Fashion", Price: gold(300),
	})
	require.NoError(t, err)

	require.NoError(t, tradeSvc.Cancel(ctx, svcSeller, "Bag"))

	rows, err := journal.ListByItem(ctx, "Bag", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "cancelled", rows[0].Status)

	assert.Zero(t, ledgerSvc.BalanceOf(ctx, svcSeller).Sign())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, domain.EventTypeTradeCancelled, sender.sent[0].event)
}

func TestTradeServiceConfirmAfterTimeoutMarksJournalExpired(t *testing.T) {
	core := ledger.New(svcOwner)
	manager := escrow.NewManager(core, svcEscrow)

	now := time.Now()
	manager.SetNowFunc(func() time.Time { return now })

	require.NoError(t, core.Mint(svcOwner, svcBuyer, gold(10000)))
	require.NoError(t, core.Approve(svcBuyer, svcEscrow, gold(10000)))

	journal := newFakeTradeStore()
	tradeSvc := NewTradeService(manager, journal, nil, nil, discardLogger())
	ctx := context.Background()

	_, err := tradeSvc.Create(ctx, escrow.CreateParams{
		Buyer: svcBuyer, Seller: svcSeller,
		ItemName: "Book", Price: gold(200),
	})
	require.NoError(t, err)

	now = now.Add(escrow.DefaultTimeout + time.Minute)

	err = tradeSvc.Confirm(ctx, svcBuyer, "Book")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTradeExpired)

	rows, err := journal.ListByItem(ctx, "Book", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "expired", rows[0].Status)
}

func TestBusEmitterPublishesEnvelope(t *testing.T) {
	bus := newFakeBus()
	emitter := NewBusEmitter(bus, 8, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = emitter.Run(ctx) }()

	emitter.Emit(domain.MintEvent{
		EventMeta: domain.EventMeta{At: time.Unix(1_700_000_000, 0)},
		To:        svcBuyer,
		Amount:    gold(5),
	})

	assert.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.published[EventChannel(domain.EventTypeMint)]) == 1 && len(bus.stream) == 1
	}, time.Second, 10*time.Millisecond)

	bus.mu.Lock()
	raw := bus.published[EventChannel(domain.EventTypeMint)][0]
	bus.mu.Unlock()

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, domain.EventTypeMint, env.Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, svcBuyer.Hex(), payload["to"])
	assert.Equal(t, gold(5).String(), payload["amount"])
}
