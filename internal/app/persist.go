package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/metrics"
)

// snapshotsKept is the number of snapshots retained in the primary store.
const snapshotsKept = 20

// Snapshotter is the engine surface needed to persist and reload state.
type Snapshotter interface {
	Snapshot(ctx context.Context) domain.State
	Restore(ctx context.Context, st domain.State) error
}

// SnapshotSource returns the newest saved state or domain.ErrNotFound.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context) (domain.State, error)
}

// Persister saves an engine snapshot after committed units. Saves are
// coalesced: at most one per interval, plus a final one on shutdown.
// Failures are logged and retried on the next change.
type Persister struct {
	engine   Snapshotter
	store    domain.SnapshotStore
	prune    func(ctx context.Context, keep int, archivedSeq uint64) error
	interval time.Duration
	dirty    chan struct{}
	logger   *slog.Logger
}

// NewPersister creates a Persister. prune may be nil.
func NewPersister(engine Snapshotter, store domain.SnapshotStore, prune func(context.Context, int, uint64) error, interval time.Duration, logger *slog.Logger) *Persister {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Persister{
		engine:   engine,
		store:    store,
		prune:    prune,
		interval: interval,
		dirty:    make(chan struct{}, 1),
		logger:   logger.With(slog.String("component", "persister")),
	}
}

// Handle implements domain.EventSink. It only marks state as changed.
func (p *Persister) Handle(_ context.Context, _ []domain.Event) error {
	select {
	case p.dirty <- struct{}{}:
	default:
	}
	return nil
}

// Run saves pending changes on every tick until ctx is cancelled, then saves
// once more with a short detached deadline.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			if pending {
				saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				p.save(saveCtx)
				cancel()
			}
			return nil
		case <-p.dirty:
			pending = true
		case <-ticker.C:
			if pending && p.save(ctx) {
				pending = false
			}
		}
	}
}

// save stores one snapshot and reports whether it succeeded.
func (p *Persister) save(ctx context.Context) bool {
	st := p.engine.Snapshot(ctx)
	if err := p.store.Save(ctx, st); err != nil {
		metrics.SinkErrors.WithLabelValues("snapshot").Inc()
		p.logger.WarnContext(ctx, "snapshot save failed",
			slog.Uint64("last_seq", st.LastSeq),
			slog.String("error", err.Error()),
		)
		return false
	}
	p.logger.DebugContext(ctx, "snapshot saved", slog.Uint64("last_seq", st.LastSeq))

	if p.prune != nil {
		if err := p.prune(ctx, snapshotsKept, 0); err != nil {
			p.logger.WarnContext(ctx, "snapshot prune failed", slog.String("error", err.Error()))
		}
	}
	return true
}

// restoreState loads the newest snapshot from the primary store, falling
// back to the archive, and restores it into engine. When the event log is
// ahead of the snapshot the sequence counter is advanced past it so new
// events never reuse a stored seq; the skipped units are not replayed.
func restoreState(ctx context.Context, engine Snapshotter, store domain.SnapshotStore, archive SnapshotSource, events domain.EventStore, logger *slog.Logger) error {
	st, source, err := latestState(ctx, store, archive)
	if err != nil {
		return err
	}

	var logSeq uint64
	if events != nil {
		if logSeq, err = events.LastSeq(ctx); err != nil {
			return fmt.Errorf("app: event log seq: %w", err)
		}
	}

	if source == "" {
		if logSeq == 0 {
			logger.InfoContext(ctx, "no snapshot found, starting from empty state")
			return nil
		}
		st = engine.Snapshot(ctx)
	}
	if logSeq > st.LastSeq {
		logger.WarnContext(ctx, "event log is ahead of the snapshot",
			slog.Uint64("snapshot_seq", st.LastSeq),
			slog.Uint64("log_seq", logSeq),
		)
		st.LastSeq = logSeq
	}
	if err := engine.Restore(ctx, st); err != nil {
		return fmt.Errorf("app: restore: %w", err)
	}
	if source != "" {
		logger.InfoContext(ctx, "snapshot restored",
			slog.String("source", source),
			slog.Time("taken_at", st.TakenAt),
		)
	}
	return nil
}

func latestState(ctx context.Context, store domain.SnapshotStore, archive SnapshotSource) (domain.State, string, error) {
	if store != nil {
		st, err := store.Latest(ctx)
		switch {
		case err == nil:
			return st, "store", nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.State{}, "", fmt.Errorf("app: load snapshot: %w", err)
		}
	}
	if archive != nil {
		st, err := archive.LatestSnapshot(ctx)
		switch {
		case err == nil:
			return st, "archive", nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.State{}, "", fmt.Errorf("app: load archived snapshot: %w", err)
		}
	}
	return domain.State{}, "", nil
}
