package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/swingold/escrowd/internal/domain"
	"github.com/swingold/escrowd/internal/escrow"
	"github.com/swingold/escrowd/internal/notify"
)

// TradeService fronts the escrow manager with the journal, audit log and
// notifier. The manager remains the source of truth; persistence failures are
// logged but never fail a trade operation that already succeeded.
type TradeService struct {
	escrow   *escrow.Manager
	journal  domain.TradeStore // optional
	audit    domain.AuditStore // optional
	notifier *notify.Notifier  // optional
	logger   *slog.Logger
	nowFn    func() time.Time

	mu   sync.Mutex
	open map[string]string // item name -> journal row ID of the live trade
}

// NewTradeService creates a TradeService. journal, audit and notifier may be
// nil when the corresponding backend is disabled.
func NewTradeService(
	manager *escrow.Manager,
	journal domain.TradeStore,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		escrow:   manager,
		journal:  journal,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "trade_service")),
		nowFn:    time.Now,
		open:     make(map[string]string),
	}
}

// EscrowAddress returns the address trades settle through; buyers must
// approve it as a spender before confirming.
func (s *TradeService) EscrowAddress() common.Address {
	return s.escrow.Address()
}

// Create opens a new trade under the item's name.
func (s *TradeService) Create(ctx context.Context, p escrow.CreateParams) (*domain.Trade, error) {
	trade, err := s.escrow.CreateTrade(p)
	if err != nil {
		return nil, fmt.Errorf("trade_service: create: %w", err)
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.open[trade.ItemName] = id
	s.mu.Unlock()

	if s.journal != nil {
		entry := domain.TradeEntry{
			ID:           id,
			ItemName:     trade.ItemName,
			ItemCategory: trade.ItemCategory,
			Buyer:        trade.Buyer.Hex(),
			Seller:       trade.Seller.Hex(),
			Price:        trade.ItemPrice.String(),
			Status:       domain.TradePending.String(),
			CreatedAt:    trade.CreatedAt.UTC(),
		}
		if err := s.journal.Insert(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "journal insert failed",
				slog.String("item", trade.ItemName),
				slog.String("error", err.Error()),
			)
		}
	}

	s.auditLog(ctx, domain.EventTypeTradeCreated, map[string]any{
		"item": trade.ItemName, "buyer": trade.Buyer.Hex(),
		"seller": trade.Seller.Hex(), "price": trade.ItemPrice.String(),
	})

	return trade, nil
}

// Confirm settles a pending trade: the escrowed price moves from buyer to
// seller and the marketplace backend is notified so it can release the item.
func (s *TradeService) Confirm(ctx context.Context, caller common.Address, itemName string) error {
	err := s.escrow.ConfirmTrade(caller, itemName)
	if errors.Is(err, domain.ErrTradeExpired) {
		// First observation of the lapse; reflect it in the journal.
		s.closeJournal(ctx, itemName, domain.TradeExpired)
		return fmt.Errorf("trade_service: confirm: %w", err)
	}
	if err != nil {
		return fmt.Errorf("trade_service: confirm: %w", err)
	}

	s.closeJournal(ctx, itemName, domain.TradeCompleted)
	s.auditLog(ctx, domain.EventTypeTradeCompleted, map[string]any{
		"item": itemName, "buyer": caller.Hex(),
	})
	s.notifyTrade(ctx, domain.EventTypeTradeCompleted, itemName)

	return nil
}

// Cancel voids a pending trade without moving funds. Either party may cancel.
func (s *TradeService) Cancel(ctx context.Context, caller common.Address, itemName string) error {
	if err := s.escrow.CancelTrade(caller, itemName); err != nil {
		return fmt.Errorf("trade_service: cancel: %w", err)
	}

	s.closeJournal(ctx, itemName, domain.TradeCancelled)
	s.auditLog(ctx, domain.EventTypeTradeCancelled, map[string]any{
		"item": itemName, "by": caller.Hex(),
	})
	s.notifyTrade(ctx, domain.EventTypeTradeCancelled, itemName)

	return nil
}

// Get returns the raw stored trade for an item.
func (s *TradeService) Get(itemName string) (*domain.Trade, error) {
	trade, err := s.escrow.Trade(itemName)
	if err != nil {
		return nil, fmt.Errorf("trade_service: get: %w", err)
	}
	return trade, nil
}

// Info returns the client projection of a trade, with expiry derived at read
// time.
func (s *TradeService) Info(itemName string) (domain.TradeView, error) {
	view, err := s.escrow.TradeInfo(itemName)
	if err != nil {
		return domain.TradeView{}, fmt.Errorf("trade_service: info: %w", err)
	}
	return view, nil
}

// HistoryByItem returns the persisted trade history for an item name, newest
// first. Returns nil when the journal is disabled.
func (s *TradeService) HistoryByItem(ctx context.Context, itemName string, opts domain.ListOpts) ([]domain.TradeEntry, error) {
	if s.journal == nil {
		return nil, nil
	}
	entries, err := s.journal.ListByItem(ctx, itemName, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: history by item: %w", err)
	}
	return entries, nil
}

// HistoryByAccount returns persisted trades where the account appears as
// buyer or seller. Returns nil when the journal is disabled.
func (s *TradeService) HistoryByAccount(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.TradeEntry, error) {
	if s.journal == nil {
		return nil, nil
	}
	entries, err := s.journal.ListByAccount(ctx, addr.Hex(), opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: history by account: %w", err)
	}
	return entries, nil
}

// closeJournal marks the live journal row for an item with its terminal
// status. Failures are logged, not returned.
func (s *TradeService) closeJournal(ctx context.Context, itemName string, status domain.TradeStatus) {
	s.mu.Lock()
	id, ok := s.open[itemName]
	if ok {
		delete(s.open, itemName)
	}
	s.mu.Unlock()

	if !ok || s.journal == nil {
		return
	}
	if err := s.journal.UpdateStatus(ctx, id, status.String(), s.nowFn().UTC()); err != nil {
		s.logger.WarnContext(ctx, "journal update failed",
			slog.String("item", itemName),
			slog.String("status", status.String()),
			slog.String("error", err.Error()),
		)
	}
}

// notifyTrade delivers the trade's current view to the notifier. Failures
// are logged; delivery is at-most-once by design.
func (s *TradeService) notifyTrade(ctx context.Context, event, itemName string) {
	if s.notifier == nil {
		return
	}

	view, err := s.escrow.TradeInfo(itemName)
	if err != nil {
		s.logger.WarnContext(ctx, "notify skipped, trade not readable",
			slog.String("item", itemName),
			slog.String("error", err.Error()),
		)
		return
	}

	payload, err := json.Marshal(view)
	if err != nil {
		s.logger.WarnContext(ctx, "notify payload marshal failed",
			slog.String("item", itemName),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.notifier.Notify(ctx, event, payload); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("item", itemName),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog records the operation in the audit store; failures are logged.
func (s *TradeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
