// Package service coordinates the in-memory cores with their external
// collaborators: the journal stores, the balance cache, the signal bus, the
// audit log, and the notifier.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/swingold/escrowd/internal/domain"
)

// EventStream is the durable Redis stream every event is appended to.
const EventStream = "events"

// EventChannel returns the pub/sub channel name for an event type, e.g.
// "events:ledger.transfer". Subscribers use the pattern "events:*" to
// receive everything.
func EventChannel(eventType string) string {
	return "events:" + eventType
}

// Envelope is the wire format for events on the signal bus.
type Envelope struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalEvent serialises a core event into its bus envelope. Amounts are
// decimal strings and addresses checksummed hex; trades are projected to
// their client view.
func MarshalEvent(ev domain.Event) ([]byte, error) {
	payload, err := json.Marshal(eventPayload(ev))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:    ev.EventType(),
		At:      ev.OccurredAt().UTC(),
		Payload: payload,
	})
}

// eventPayload converts a core event into a JSON-friendly structure.
func eventPayload(ev domain.Event) any {
	switch e := ev.(type) {
	case domain.MintEvent:
		return map[string]any{"to": e.To.Hex(), "amount": e.Amount.String()}
	case domain.TransferEvent:
		return map[string]any{
			"from": e.From.Hex(), "to": e.To.Hex(),
			"amount": e.Amount.String(), "kind": string(e.Kind),
		}
	case domain.ApprovalEvent:
		return map[string]any{
			"owner": e.Owner.Hex(), "spender": e.Spender.Hex(),
			"amount": e.Amount.String(),
		}
	case domain.DepositEvent:
		return map[string]any{"account": e.Account.Hex(), "amount": e.Amount.String()}
	case domain.WithdrawEvent:
		return map[string]any{"account": e.Account.Hex(), "amount": e.Amount.String()}
	case domain.TradeCreatedEvent:
		return e.Trade.View(e.Trade.Status)
	case domain.TradeCompletedEvent:
		return e.Trade.View(e.Trade.Status)
	case domain.TradeCancelledEvent:
		return e.Trade.View(e.Trade.Status)
	default:
		return ev
	}
}

// BusEmitter implements domain.Emitter by forwarding core events onto the
// signal bus. Emission happens inside the cores' critical sections, so Emit
// only enqueues; a background pump does the actual publishing. Events are
// dropped (with a warning) if the buffer is full rather than blocking the
// ledger.
type BusEmitter struct {
	bus    domain.SignalBus
	queue  chan domain.Event
	logger *slog.Logger
}

// NewBusEmitter creates a BusEmitter with the given buffer size. Call Run to
// start the pump.
func NewBusEmitter(bus domain.SignalBus, buffer int, logger *slog.Logger) *BusEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &BusEmitter{
		bus:    bus,
		queue:  make(chan domain.Event, buffer),
		logger: logger.With(slog.String("component", "bus_emitter")),
	}
}

// Emit enqueues an event for publishing. Never blocks.
func (b *BusEmitter) Emit(ev domain.Event) {
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("event queue full, dropping event",
			slog.String("type", ev.EventType()),
		)
	}
}

// Run pumps queued events to the bus until ctx is cancelled. Publish errors
// are logged and the pump keeps going; the bus is best-effort fan-out, not
// the system of record.
func (b *BusEmitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.queue:
			data, err := MarshalEvent(ev)
			if err != nil {
				b.logger.Error("marshal event failed",
					slog.String("type", ev.EventType()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := b.bus.Publish(ctx, EventChannel(ev.EventType()), data); err != nil {
				b.logger.Warn("publish failed",
					slog.String("type", ev.EventType()),
					slog.String("error", err.Error()),
				)
			}
			if err := b.bus.StreamAppend(ctx, EventStream, data); err != nil {
				b.logger.Warn("stream append failed",
					slog.String("type", ev.EventType()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Compile-time interface check.
var _ domain.Emitter = (*BusEmitter)(nil)
