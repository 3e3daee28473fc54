// Package memory provides in-process implementations of the cache
// interfaces for single-node runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// subscriberBuffer is the per-subscriber channel capacity. Slow subscribers
// lose messages, as with Redis pub/sub.
const subscriberBuffer = 64

// SignalBus is an in-process domain.SignalBus.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
}

// NewSignalBus creates a bus whose streams keep at most maxLen entries.
// Zero means unbounded.
func NewSignalBus(maxLen int) *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every current subscriber of channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of messages published on channel. It is
// closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// StreamAppend adds payload to stream with a Redis-style "{ms}-{seq}" id.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), b.seq)
	entries := append(b.streams[stream], domain.StreamMessage{ID: id, Payload: append([]byte(nil), payload...)})
	if b.maxLen > 0 && len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries after lastID. "0", "0-0" and ""
// read from the beginning.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := parseSeq(lastID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		seq, _ := parseSeq(msg.ID)
		if seq <= after {
			continue
		}
		out = append(out, domain.StreamMessage{ID: msg.ID, Payload: append([]byte(nil), msg.Payload...)})
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// StreamDelete removes entries by id. Unknown ids are ignored.
func (b *SignalBus) StreamDelete(_ context.Context, stream string, ids ...string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.streams[stream][:0]
	for _, msg := range b.streams[stream] {
		if !drop[msg.ID] {
			kept = append(kept, msg)
		}
	}
	b.streams[stream] = kept
	return nil
}

// StreamLen returns the number of entries in stream.
func (b *SignalBus) StreamLen(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[stream])
}

// parseSeq extracts the sequence part of an id. Ordering uses it alone
// because it is unique and increasing within one bus.
func parseSeq(id string) (uint64, error) {
	switch id {
	case "", "0", "0-0":
		return 0, nil
	}
	_, seq, ok := strings.Cut(id, "-")
	if !ok {
		return 0, fmt.Errorf("memory: invalid stream id %q", id)
	}
	return strconv.ParseUint(seq, 10, 64)
}

var _ domain.SignalBus = (*SignalBus)(nil)
