// Package keeper is the external scheduler of the settlement engine. The
// Scanner marks expired markets and the Resolver turns expiration markers
// into oracle resolutions.
package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/metrics"
)

// Upkeeper is the scan-phase surface of the engine. engine.Session and
// client.Client both implement it.
type Upkeeper interface {
	CheckExpired(ctx context.Context) ([]uint64, error)
	PerformUpkeep(ctx context.Context, ids []uint64) ([]uint64, error)
}

// MarketResolver resolves a market from its price feed.
type MarketResolver interface {
	ResolveMarket(ctx context.Context, marketID uint64) (domain.Resolution, error)
}

// Scanner periodically asks the engine which markets expired and emits
// upkeep for them.
type Scanner struct {
	upkeeper Upkeeper
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewScanner creates a Scanner. batch bounds the ids sent per upkeep call.
func NewScanner(upkeeper Upkeeper, interval time.Duration, batch int, logger *slog.Logger) *Scanner {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		upkeeper: upkeeper,
		interval: interval,
		batch:    batch,
		logger:   logger.With(slog.String("component", "keeper_scanner")),
	}
}

// Run scans once immediately and then on every tick. Call in a goroutine.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "keeper scan failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one scan and returns the ids that were marked.
func (s *Scanner) RunOnce(ctx context.Context) (marked []uint64, err error) {
	start := time.Now()
	defer func() { metrics.RecordKeeperRun("scan", time.Since(start), err) }()

	ids, err := s.upkeeper.CheckExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("keeper: check expired: %w", err)
	}
	for len(ids) > 0 {
		n := min(len(ids), s.batch)
		done, err := s.upkeeper.PerformUpkeep(ctx, ids[:n])
		if err != nil {
			return marked, fmt.Errorf("keeper: perform upkeep: %w", err)
		}
		marked = append(marked, done...)
		ids = ids[n:]
	}
	if len(marked) > 0 {
		s.logger.InfoContext(ctx, "markets marked expired",
			slog.Int("count", len(marked)),
			slog.Any("market_ids", marked),
		)
	}
	return marked, nil
}
