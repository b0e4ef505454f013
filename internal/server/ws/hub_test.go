package ws

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swingold/escrowd/internal/domain"
)

// stubBus hands out a test-controlled subscription channel and canned
// stream entries.
type stubBus struct {
	signals    chan domain.BusSignal
	stream     []domain.StreamMessage
	lastReadID string
}

func (s *stubBus) Publish(context.Context, string, []byte) error { return nil }

func (s *stubBus) Subscribe(context.Context, string) (<-chan domain.BusSignal, error) {
	return s.signals, nil
}

func (s *stubBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (s *stubBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	s.lastReadID = lastID
	return s.stream, nil
}

func newTestHub(bus domain.SignalBus) *Hub {
	return NewHub(bus, slog.New(slog.DiscardHandler), Config{Mode: "test"})
}

func newTestClient(h *Hub, channels ...string) *client {
	c := &client{
		hub:      h,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		c.channels[ch] = true
	}
	return c
}

func TestSubscribedMatching(t *testing.T) {
	c := newTestClient(newTestHub(&stubBus{}), "events:*")

	assert.True(t, c.subscribed("events:ledger.transfer"))
	assert.True(t, c.subscribed("events:escrow.trade_completed"))

	c.apply(controlMsg{Action: "unsubscribe", Channels: []string{"events:*"}})
	c.apply(controlMsg{Action: "subscribe", Channels: []string{"events:escrow.trade_completed"}})

	assert.True(t, c.subscribed("events:escrow.trade_completed"))
	assert.False(t, c.subscribed("events:ledger.transfer"), "narrowed client must not match other events")

	c.apply(controlMsg{Action: "subscribe", Channels: []string{"events:escrow.*"}})
	assert.True(t, c.subscribed("events:escrow.trade_expired"), "trailing * is a prefix wildcard")
}

func TestRelayTagsConcreteChannel(t *testing.T) {
	bus := &stubBus{signals: make(chan domain.BusSignal, 1)}
	h := newTestHub(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.relay(ctx, "events:*")

	bus.signals <- domain.BusSignal{
		Channel: "events:escrow.trade_completed",
		Payload: []byte(`{"type":"escrow.trade_completed"}`),
	}

	select {
	case msg := <-h.incoming:
		assert.Equal(t, "events:escrow.trade_completed", msg.channel,
			"fan-out must see the channel the event was published to, not the subscription pattern")
	case <-time.After(time.Second):
		t.Fatal("no message relayed")
	}
}

func TestFanOutHonorsNarrowedSubscription(t *testing.T) {
	h := newTestHub(&stubBus{})

	everything := newTestClient(h, "events:*")
	narrowed := newTestClient(h, "events:escrow.trade_completed")
	h.clients[everything] = struct{}{}
	h.clients[narrowed] = struct{}{}

	h.fanOut(busMessage{channel: "events:ledger.transfer", data: []byte("a")})
	h.fanOut(busMessage{channel: "events:escrow.trade_completed", data: []byte("b")})

	require.Len(t, everything.send, 2)
	require.Len(t, narrowed.send, 1)
	assert.Equal(t, []byte("b"), <-narrowed.send)
}

func TestQueueReplayDeliversMissedEvents(t *testing.T) {
	bus := &stubBus{stream: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte("first")},
		{ID: "2-0", Payload: []byte("second")},
	}}
	h := newTestHub(bus)
	c := newTestClient(h, "events:*")

	h.queueReplay(context.Background(), c, "0")

	assert.Equal(t, "0", bus.lastReadID)
	require.Len(t, c.send, 2)
	assert.Equal(t, []byte("first"), <-c.send)
	assert.Equal(t, []byte("second"), <-c.send)
}
