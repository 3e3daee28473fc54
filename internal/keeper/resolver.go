package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	rediscache "github.com/alanyoungcy/conviction/internal/cache/redis"
	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/metrics"
)

// Result labels of a resolution attempt.
const (
	ResultResolved = "resolved"
	ResultPending  = "pending"
	ResultDropped  = "dropped"
	ResultLocked   = "locked"
)

// Resolver consumes expiration markers from the marker stream and resolves
// their markets. Markers that fail for a transient reason, such as a stale
// price, stay in the stream and are retried on the next cycle. Markers for
// markets that are already resolved or gone are deleted.
type Resolver struct {
	resolver MarketResolver
	bus      domain.SignalBus
	locks    domain.LockManager
	interval time.Duration
	lockTTL  time.Duration
	batch    int
	logger   *slog.Logger
}

// ResolverConfig holds the Resolver timing parameters.
type ResolverConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
	Batch    int
}

// NewResolver creates a Resolver. locks may be nil when a single keeper
// runs.
func NewResolver(resolver MarketResolver, bus domain.SignalBus, locks domain.LockManager, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		resolver: resolver,
		bus:      bus,
		locks:    locks,
		interval: cfg.Interval,
		lockTTL:  cfg.LockTTL,
		batch:    cfg.Batch,
		logger:   logger.With(slog.String("component", "keeper_resolver")),
	}
}

// Run processes markers on every tick and whenever a market_expired event
// is seen on the events channel. Call in a goroutine.
func (r *Resolver) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	go r.watch(ctx, wake)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "keeper resolve cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// watch signals wake for every market_expired event published on the
// events channel. Resolution still reads the durable stream; the channel
// only shortens the wait.
func (r *Resolver) watch(ctx context.Context, wake chan<- struct{}) {
	msgs, err := r.bus.Subscribe(ctx, rediscache.EventsChannel)
	if err != nil {
		r.logger.WarnContext(ctx, "keeper: events subscription failed, polling only",
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			var ev domain.Event
			if json.Unmarshal(data, &ev) != nil || ev.Type != domain.EventMarketExpired {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

// RunOnce reads pending markers and attempts each market once. It returns
// the number of markets resolved.
func (r *Resolver) RunOnce(ctx context.Context) (resolved int, err error) {
	start := time.Now()
	defer func() { metrics.RecordKeeperRun("resolve", time.Since(start), err) }()

	msgs, err := r.bus.StreamRead(ctx, rediscache.MarkerStream, "0", r.batch)
	if err != nil {
		return 0, fmt.Errorf("keeper: read markers: %w", err)
	}

	// Markers are grouped by market so repeated upkeep for one market costs
	// one resolution attempt.
	var (
		order   []uint64
		entries = make(map[uint64][]string)
		garbage []string
	)
	for _, msg := range msgs {
		m, err := rediscache.DecodeMarker(msg.Payload)
		if err != nil {
			r.logger.WarnContext(ctx, "keeper: dropping undecodable marker",
				slog.String("id", msg.ID),
				slog.String("error", err.Error()),
			)
			garbage = append(garbage, msg.ID)
			continue
		}
		if _, seen := entries[m.MarketID]; !seen {
			order = append(order, m.MarketID)
		}
		entries[m.MarketID] = append(entries[m.MarketID], msg.ID)
	}

	var done []string
	done = append(done, garbage...)
	for _, id := range order {
		if ctx.Err() != nil {
			break
		}
		switch result := r.attempt(ctx, id); result {
		case ResultResolved:
			resolved++
			done = append(done, entries[id]...)
		case ResultDropped:
			done = append(done, entries[id]...)
		}
	}

	if len(done) > 0 {
		if err := r.bus.StreamDelete(ctx, rediscache.MarkerStream, done...); err != nil {
			return resolved, fmt.Errorf("keeper: delete markers: %w", err)
		}
	}
	return resolved, nil
}

// attempt resolves one market under its lock and classifies the outcome.
func (r *Resolver) attempt(ctx context.Context, marketID uint64) string {
	log := r.logger.With(slog.Uint64("market_id", marketID))

	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "resolve:"+strconv.FormatUint(marketID, 10), r.lockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				log.WarnContext(ctx, "keeper: lock failed", slog.String("error", err.Error()))
			}
			metrics.ResolveAttempts.WithLabelValues(ResultLocked).Inc()
			return ResultLocked
		}
		defer unlock()
	}

	res, err := r.resolver.ResolveMarket(ctx, marketID)
	result := Classify(err)
	metrics.ResolveAttempts.WithLabelValues(result).Inc()

	switch result {
	case ResultResolved:
		log.InfoContext(ctx, "keeper: market resolved",
			slog.String("winning", res.WinningOutcome.String()),
			slog.String("price", domain.CopyInt(res.Price).String()),
		)
	case ResultDropped:
		log.InfoContext(ctx, "keeper: marker dropped", slog.String("reason", err.Error()))
	default:
		log.WarnContext(ctx, "keeper: resolution pending", slog.String("error", err.Error()))
	}
	return result
}

// Classify maps a ResolveMarket error to a marker outcome. Errors that can
// never succeed later drop the marker; everything else is retried.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultResolved
	case errors.Is(err, domain.ErrMarketAlreadyResolved),
		errors.Is(err, domain.ErrMarketNotFound):
		return ResultDropped
	default:
		return ResultPending
	}
}
