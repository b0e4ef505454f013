// Package escrow implements the TradeManager trade registry: a keyed
// buyer/seller agreement with a fixed confirmation window, settled through
// the ledger's allowance mechanism. Expiry is evaluated lazily against the
// injected clock; there is no background sweeper.
package escrow

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swingold/escrowd/internal/domain"
)

// DefaultTimeout is the confirmation window measured from trade creation.
const DefaultTimeout = 10 * time.Minute

// Settler is the slice of the ledger the escrow needs: delegated transfer on
// a pre-approved allowance.
type Settler interface {
	TransferFrom(spender, owner, to common.Address, amount *big.Int) error
}

// Manager coordinates single-item trades keyed by item name. All mutating
// operations serialize on one mutex, so two concurrent confirmations of the
// same trade cannot both settle.
type Manager struct {
	mu sync.Mutex

	ledger  Settler
	self    common.Address // spender address buyers approve
	trades  map[string]*domain.Trade
	timeout time.Duration

	nowFn   func() time.Time
	emitter domain.Emitter
}

// NewManager creates a trade registry settling through ledger. self is the
// escrow's own address: buyers must approve it for at least the item price
// before confirming.
func NewManager(ledger Settler, self common.Address) *Manager {
	return &Manager{
		ledger:  ledger,
		self:    self,
		trades:  make(map[string]*domain.Trade),
		timeout: DefaultTimeout,
		nowFn:   time.Now,
		emitter: domain.NopEmitter{},
	}
}

// SetNowFunc overrides the time source. Passing nil restores the wall clock.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		m.nowFn = time.Now
		return
	}
	m.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (m *Manager) SetEmitter(emitter domain.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = domain.NopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetTimeout overrides the confirmation window. Non-positive values are
// ignored.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.timeout = d
	}
}

// Address returns the escrow's own spender address.
func (m *Manager) Address() common.Address { return m.self }

// CreateParams carries the createTrade arguments. NativeValue models a
// native-currency payment attached to the call; the escrow settles purely
// through the ledger and rejects any attached value.
type CreateParams struct {
	Buyer        common.Address
	Seller       common.Address
	ItemName     string
	ItemCategory string
	Price        *big.Int
	NativeValue  *big.Int
}

// CreateTrade registers a pending trade with the caller as buyer. A live
// (pending, unexpired) trade under the same item name is rejected; a
// terminal or expired one is replaced.
func (m *Manager) CreateTrade(p CreateParams) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.NativeValue != nil && p.NativeValue.Sign() != 0 {
		return nil, domain.ErrValueNotAccepted
	}
	if p.Price == nil || p.Price.Sign() <= 0 {
		return nil, domain.ErrInvalidPrice
	}
	if p.ItemName == "" {
		return nil, domain.ErrInvalidPrice
	}

	now := m.nowFn()
	if existing, ok := m.trades[p.ItemName]; ok {
		if m.statusAt(existing, now) == domain.TradePending {
			return nil, domain.ErrTradeExists
		}
	}

	trade := &domain.Trade{
		Buyer:        p.Buyer,
		Seller:       p.Seller,
		ItemName:     p.ItemName,
		ItemCategory: p.ItemCategory,
		ItemPrice:    new(big.Int).Set(p.Price),
		CreatedAt:    now,
		Status:       domain.TradePending,
	}
	m.trades[p.ItemName] = trade

	m.emitter.Emit(domain.TradeCreatedEvent{
		EventMeta: domain.EventMeta{At: now},
		Trade:     trade.Clone(),
	})
	return trade.Clone(), nil
}

// ConfirmTrade settles a pending trade: price moves from buyer to seller via
// the ledger allowance granted to the escrow, and the trade becomes terminal.
// Only the buyer may confirm, and only inside the timeout window.
func (m *Manager) ConfirmTrade(caller common.Address, itemName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[itemName]
	if !ok {
		return domain.ErrTradeNotFound
	}
	if trade.Status.Terminal() {
		return domain.ErrAlreadyCompleted
	}
	if caller != trade.Buyer {
		return domain.ErrUnauthorized
	}
	now := m.nowFn()
	if now.Sub(trade.CreatedAt) > m.timeout {
		return domain.ErrTradeExpired
	}

	if err := m.ledger.TransferFrom(m.self, trade.Buyer, trade.Seller, trade.ItemPrice); err != nil {
		return err
	}

	trade.Confirmed = true
	trade.Completed = true
	trade.Status = domain.TradeCompleted
	trade.CompletedAt = now

	m.emitter.Emit(domain.TradeCompletedEvent{
		EventMeta: domain.EventMeta{At: now},
		Trade:     trade.Clone(),
	})
	return nil
}

// CancelTrade marks a pending trade terminal without moving funds. Buyer or
// seller may cancel, before or after expiry.
func (m *Manager) CancelTrade(caller common.Address, itemName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[itemName]
	if !ok {
		return domain.ErrTradeNotFound
	}
	if trade.Status.Terminal() {
		return domain.ErrAlreadyCompleted
	}
	if caller != trade.Buyer && caller != trade.Seller {
		return domain.ErrUnauthorized
	}

	now := m.nowFn()
	trade.Status = domain.TradeCancelled
	trade.CancelledAt = now

	m.emitter.Emit(domain.TradeCancelledEvent{
		EventMeta: domain.EventMeta{At: now},
		Trade:     trade.Clone(),
	})
	return nil
}

// Trade returns a copy of the raw trade record. An expired pending trade is
// returned as stored: Confirmed and Completed both false, no error.
func (m *Manager) Trade(itemName string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[itemName]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return trade.Clone(), nil
}

// TradeInfo returns the client projection of the trade, with the status
// derived at read time so an over-age pending trade reports expired.
func (m *Manager) TradeInfo(itemName string) (domain.TradeView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trade, ok := m.trades[itemName]
	if !ok {
		return domain.TradeView{}, domain.ErrTradeNotFound
	}
	return trade.View(m.statusAt(trade, m.nowFn())), nil
}

// statusAt derives the effective status of a trade at the given instant.
// Callers must hold m.mu.
func (m *Manager) statusAt(trade *domain.Trade, now time.Time) domain.TradeStatus {
	if trade.Status == domain.TradePending && now.Sub(trade.CreatedAt) > m.timeout {
		return domain.TradeExpired
	}
	return trade.Status
}
