package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// KeyPrefix namespaces every key, channel and stream this package touches.
const KeyPrefix = "conviction:"

// Well-known channel and stream names.
const (
	EventsChannel = KeyPrefix + "events"
	MarkerStream  = KeyPrefix + "markers"
)

const (
	// markerStreamMaxLen caps MarkerStream via XADD MAXLEN ~. Keepers delete
	// entries as they resolve them, so the cap only bites when none run.
	markerStreamMaxLen int64 = 10_000
	subscriberBuffer         = 128
	payloadField             = "payload"
)

// SignalBus implements domain.SignalBus: event fan-out over Pub/Sub and the
// marker queue over a Redis stream.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Publish sends payload to channel. Subscribers that are not connected miss it.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe relays channel (or a glob pattern) until ctx is cancelled, then
// closes the returned channel. A slow reader blocks the relay rather than
// dropping messages.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	subscribe := sb.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		subscribe = sb.rdb.PSubscribe
	}
	ps := subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	in := ps.Channel(redis.WithChannelSize(subscriberBuffer))
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg = m
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream, trimming it to roughly
// markerStreamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: markerStreamMaxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start). It never blocks; an empty stream yields no entries and no error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: xread %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			if p, ok := streamPayload(m.Values); ok {
				out = append(out, domain.StreamMessage{ID: m.ID, Payload: p})
			}
		}
	}
	return out, nil
}

// streamPayload extracts the payload field; entries written by other tools
// without it are skipped.
func streamPayload(values map[string]any) ([]byte, bool) {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

// StreamDelete removes entries that have been handled.
func (sb *SignalBus) StreamDelete(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := sb.rdb.XDel(ctx, stream, ids...).Err(); err != nil {
		return fmt.Errorf("redis: xdel %s: %w", stream, err)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
