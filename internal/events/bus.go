// Package events stages engine events inside a unit of work and delivers the
// committed ones to sinks in commit order.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/google/uuid"
)

// Bus implements domain.Emitter. Install Bus.CommitHook on the executor.
type Bus struct {
	clock  func() time.Time
	logger *slog.Logger

	seq uint64 // guarded by the executor lock

	dispatchMu sync.Mutex
	sinksMu    sync.RWMutex
	sinks      []namedSink
}

type namedSink struct {
	name string
	sink domain.EventSink
}

// NewBus creates a Bus. clock stamps event timestamps.
func NewBus(clock func() time.Time, logger *slog.Logger) *Bus {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		clock:  clock,
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Emit stages ev in the unit carried by ctx.
func (b *Bus) Emit(ctx context.Context, ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.clock().UTC()
	}
	txn.Stage(ctx, ev)
}

// Subscribe registers a sink. Sinks run synchronously on the committing
// goroutine after the executor lock is released and must not call back into
// the engine on that goroutine.
func (b *Bus) Subscribe(name string, sink domain.EventSink) {
	b.sinksMu.Lock()
	defer b.sinksMu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
}

// Seq returns the sequence number of the last committed event. The caller
// must hold the executor lock.
func (b *Bus) Seq() uint64 { return b.seq }

// SetSeq restores the sequence counter after loading a snapshot. The caller
// must hold the executor lock.
func (b *Bus) SetSeq(seq uint64) { b.seq = seq }

// CommitHook assigns ids and sequence numbers to the staged events of a
// committed unit. Dispatch is serialised in commit order.
func (b *Bus) CommitHook(ctx context.Context, staged []any) func() {
	batch := make([]domain.Event, 0, len(staged))
	for _, v := range staged {
		ev, ok := v.(domain.Event)
		if !ok {
			continue
		}
		b.seq++
		ev.Seq = b.seq
		ev.ID = uuid.NewString()
		batch = append(batch, ev)
	}
	if len(batch) == 0 {
		return nil
	}
	// Taken under the executor lock so batches are delivered in commit order.
	b.dispatchMu.Lock()
	dctx := context.WithoutCancel(ctx)
	return func() {
		defer b.dispatchMu.Unlock()
		b.deliver(dctx, batch)
	}
}

func (b *Bus) deliver(ctx context.Context, batch []domain.Event) {
	b.sinksMu.RLock()
	sinks := make([]namedSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.sinksMu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Handle(ctx, batch); err != nil {
			b.logger.Warn("event sink failed",
				slog.String("sink", s.name),
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}
}
