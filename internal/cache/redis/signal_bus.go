package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/swingold/escrowd/internal/domain"
)

// Stream retention, enforced approximately via XADD MAXLEN ~. Old entries
// fall off once consumers are this far behind.
const streamMaxLen int64 = 10000

// subscribeBuffer is the per-subscription delivery buffer. A subscriber that
// stalls longer than this many messages blocks only its own pump goroutine.
const subscribeBuffer = 128

// SignalBus implements domain.SignalBus on Redis. Pub/Sub carries the
// ephemeral event fan-out consumed by the websocket hub; Streams keep a
// bounded, ordered replay log of the same envelopes.
type SignalBus struct {
	rdb *goredis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription. Each delivery carries the concrete
// channel it was published to, so pattern subscribers ("events:*") can still
// tell events apart. Cancelling the context tears the subscription down and
// closes the returned channel.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan domain.BusSignal, error) {
	var pubsub *goredis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// The first Receive returns the subscription confirmation, or the reason
	// the subscription never came up.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan domain.BusSignal, subscribeBuffer)
	go sb.pump(ctx, pubsub, out)
	return out, nil
}

// pump copies messages from the Pub/Sub connection to out until the context
// is cancelled or the connection drops.
func (sb *SignalBus) pump(ctx context.Context, pubsub *goredis.PubSub, out chan<- domain.BusSignal) {
	defer close(out)
	defer pubsub.Close()

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case out <- domain.BusSignal{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// StreamAppend appends a payload to a stream, trimming it to roughly
// streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID. Pass "0" to read from
// the beginning or "$" for new entries only. No pending entries is not an
// error; the result is simply empty.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			if data, ok := streamPayload(msg); ok {
				messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
			}
		}
	}
	return messages, nil
}

// streamPayload extracts the "payload" field of a stream entry. Entries
// written by other tools without that field are skipped.
func streamPayload(msg goredis.XMessage) ([]byte, bool) {
	switch v := msg.Values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
