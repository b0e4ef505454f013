package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event type names as they appear on the signal bus and in the journal.
const (
	EventTypeMint           = "ledger.mint"
	EventTypeTransfer       = "ledger.transfer"
	EventTypeApproval       = "ledger.approval"
	EventTypeDeposit        = "ledger.deposit"
	EventTypeWithdraw       = "ledger.withdraw"
	EventTypeTradeCreated   = "escrow.trade_created"
	EventTypeTradeCompleted = "escrow.trade_completed"
	EventTypeTradeCancelled = "escrow.trade_cancelled"
)

// Event is emitted by the ledger and escrow after every successful state
// transition. Emission happens inside the operation's critical section, so
// implementations must not block.
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

// Emitter receives core events. The service layer fans them out to the
// journal, the signal bus, and notification channels.
type Emitter interface {
	Emit(Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// EventMeta carries the fields common to every event. The timestamp follows
// the emitting component's injected clock.
type EventMeta struct {
	At time.Time `json:"at"`
}

func (e EventMeta) OccurredAt() time.Time { return e.At }

// MintEvent records new units credited by the owner.
type MintEvent struct {
	EventMeta
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (MintEvent) EventType() string { return EventTypeMint }

// TransferEvent records a balance movement, direct or escrow-settled.
type TransferEvent struct {
	EventMeta
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
	Kind   TransferKind   `json:"kind"`
}

func (TransferEvent) EventType() string { return EventTypeTransfer }

// ApprovalEvent records an allowance being set.
type ApprovalEvent struct {
	EventMeta
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

func (ApprovalEvent) EventType() string { return EventTypeApproval }

// DepositEvent records native currency converted to ledger units.
type DepositEvent struct {
	EventMeta
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

func (DepositEvent) EventType() string { return EventTypeDeposit }

// WithdrawEvent records ledger units burned back to native currency.
type WithdrawEvent struct {
	EventMeta
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

func (WithdrawEvent) EventType() string { return EventTypeWithdraw }

// TradeCreatedEvent records a new pending trade.
type TradeCreatedEvent struct {
	EventMeta
	Trade *Trade `json:"trade"`
}

func (TradeCreatedEvent) EventType() string { return EventTypeTradeCreated }

// TradeCompletedEvent records a confirmed, settled trade.
type TradeCompletedEvent struct {
	EventMeta
	Trade *Trade `json:"trade"`
}

func (TradeCompletedEvent) EventType() string { return EventTypeTradeCompleted }

// TradeCancelledEvent records a trade cancelled without settlement.
type TradeCancelledEvent struct {
	EventMeta
	Trade *Trade `json:"trade"`
}

func (TradeCancelledEvent) EventType() string { return EventTypeTradeCancelled }
