// Package oracle binds markets to price pairs and resolves expired markets
// from a price feed.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/market"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/ethereum/go-ethereum/common"
)

// Markets is the registry surface the resolver needs.
type Markets interface {
	Details(ctx context.Context, id uint64) (domain.Market, error)
	Config(ctx context.Context) domain.ProtocolConfig
	SetOracleRef(ctx context.Context, id uint64, ref domain.OracleRef) error
}

// Settler closes a market with the derived outcome.
type Settler interface {
	Resolve(ctx context.Context, caller common.Address, marketID uint64, winning domain.Outcome, price *big.Int) (domain.Resolution, error)
}

// Resolver owns oracle registrations and drives resolution.
type Resolver struct {
	exec     *txn.Executor
	emitter  domain.Emitter
	markets  Markets
	settler  Settler
	feed     domain.PriceFeed
	admin    common.Address
	identity common.Address
	clock    func() time.Time
	logger   *slog.Logger

	regs map[uint64]domain.OracleRegistration
}

// NewResolver creates a Resolver that calls settlement as identity.
func NewResolver(exec *txn.Executor, emitter domain.Emitter, markets Markets, settler Settler, feed domain.PriceFeed, admin, identity common.Address, clock func() time.Time, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		exec:     exec,
		emitter:  emitter,
		markets:  markets,
		settler:  settler,
		feed:     feed,
		admin:    admin,
		identity: identity,
		clock:    clock,
		logger:   logger.With(slog.String("component", "oracle_resolver")),
		regs:     make(map[uint64]domain.OracleRegistration),
	}
}

// Identity returns the caller identity used towards settlement.
func (r *Resolver) Identity() common.Address { return r.identity }

// RegisterOracle binds marketID to the base/quote pair and threshold. A
// market can be bound only once.
func (r *Resolver) RegisterOracle(ctx context.Context, caller common.Address, marketID uint64, base, quote common.Address, threshold *big.Int) error {
	return r.exec.Do(ctx, func(ctx context.Context) error {
		if caller != r.admin {
			return fmt.Errorf("oracle: register: %w", domain.ErrUnauthorized)
		}
		if base == (common.Address{}) || quote == (common.Address{}) {
			return fmt.Errorf("oracle: register: %w", domain.ErrZeroAddress)
		}
		if threshold == nil {
			return fmt.Errorf("oracle: register: %w", domain.ErrInvalidThreshold)
		}
		if _, ok := r.regs[marketID]; ok {
			return fmt.Errorf("oracle: register %d: %w", marketID, domain.ErrOracleAlreadyRegistered)
		}
		if _, err := r.markets.Details(ctx, marketID); err != nil {
			return fmt.Errorf("oracle: register: %w", err)
		}

		ref := domain.OracleRef{Base: base, Quote: quote, Threshold: new(big.Int).Set(threshold)}
		r.regs[marketID] = domain.OracleRegistration{
			MarketID:     marketID,
			Oracle:       ref,
			RegisteredAt: r.clock().UTC(),
		}
		txn.Record(ctx, func() { delete(r.regs, marketID) })
		if err := r.markets.SetOracleRef(ctx, marketID, ref); err != nil {
			return fmt.Errorf("oracle: register: %w", err)
		}

		r.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventOracleRegistered,
			MarketID: marketID,
			Account:  caller,
			Price:    new(big.Int).Set(threshold),
			Detail:   map[string]string{"base": base.Hex(), "quote": quote.Hex()},
		})
		return nil
	})
}

// Registration returns the oracle binding of marketID.
func (r *Resolver) Registration(ctx context.Context, marketID uint64) (domain.OracleRegistration, error) {
	var (
		reg domain.OracleRegistration
		ok  bool
	)
	r.exec.View(ctx, func() { reg, ok = r.regs[marketID] })
	if !ok {
		return domain.OracleRegistration{}, fmt.Errorf("oracle: market %d: %w", marketID, domain.ErrOracleNotRegistered)
	}
	reg.Oracle.Threshold = domain.CopyIntOrNil(reg.Oracle.Threshold)
	return reg, nil
}

// ResolveMarket fetches the registered pair's price and resolves marketID.
// Anyone may call it once the market has expired. The feed is queried
// outside the executor lock; state is re-checked before resolving.
func (r *Resolver) ResolveMarket(ctx context.Context, caller common.Address, marketID uint64) (domain.Resolution, error) {
	reg, err := r.Registration(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, err
	}
	if err := r.checkResolvable(ctx, marketID); err != nil {
		return domain.Resolution{}, err
	}

	reading, err := r.feed.LatestPrice(ctx, reg.Oracle.Base, reg.Oracle.Quote)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("oracle: resolve %d: %w: %w", marketID, domain.ErrPriceFeed, err)
	}
	if reading.Price == nil {
		return domain.Resolution{}, fmt.Errorf("oracle: resolve %d: empty price: %w", marketID, domain.ErrPriceFeed)
	}

	var res domain.Resolution
	err = r.exec.Do(ctx, func(ctx context.Context) error {
		if err := r.checkResolvable(ctx, marketID); err != nil {
			return err
		}
		cfg := r.markets.Config(ctx)
		now := r.clock()
		if Stale(now, reading.UpdatedAt, cfg.MaxStaleness) {
			return fmt.Errorf("oracle: resolve %d: price age %s exceeds %s: %w",
				marketID, now.Sub(reading.UpdatedAt).Truncate(time.Second), cfg.MaxStaleness, domain.ErrPriceIsStale)
		}
		winning := DeriveOutcome(reading.Price, reg.Oracle.Threshold)
		resolved, err := r.settler.Resolve(ctx, r.identity, marketID, winning, reading.Price)
		if err != nil {
			return fmt.Errorf("oracle: resolve %d: %w", marketID, err)
		}
		res = resolved
		return nil
	})
	if err != nil {
		return domain.Resolution{}, err
	}

	r.logger.Info("market resolved",
		slog.Uint64("market_id", marketID),
		slog.String("winning", res.WinningOutcome.String()),
		slog.String("price", reading.Price.String()),
		slog.String("caller", caller.Hex()),
	)
	return res, nil
}

func (r *Resolver) checkResolvable(ctx context.Context, marketID uint64) error {
	m, err := r.markets.Details(ctx, marketID)
	if err != nil {
		return fmt.Errorf("oracle: resolve: %w", err)
	}
	if m.Resolved {
		return fmt.Errorf("oracle: resolve %d: %w", marketID, domain.ErrMarketAlreadyResolved)
	}
	// Resolution before expiry is refused even with a fresh price; keepers
	// only act on markets PerformUpkeep has marked.
	if !market.IsExpired(r.clock(), m.ExpiresAt, m.Resolved) {
		return fmt.Errorf("oracle: resolve %d: %w", marketID, domain.ErrMarketNotExpired)
	}
	return nil
}

// Stale reports whether a reading taken at updatedAt is older than maxAge at
// now. Ages are compared in whole Unix seconds, like market expiry.
func Stale(now, updatedAt time.Time, maxAge time.Duration) bool {
	return now.Unix()-updatedAt.Unix() > int64(maxAge/time.Second)
}

// DeriveOutcome maps a price to an outcome. The boundary is inclusive
// toward A.
func DeriveOutcome(price, threshold *big.Int) domain.Outcome {
	if price.Cmp(threshold) >= 0 {
		return domain.OutcomeA
	}
	return domain.OutcomeB
}
