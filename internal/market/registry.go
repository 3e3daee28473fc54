// Package market owns the append-only market registry and the protocol
// configuration.
package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/ethereum/go-ethereum/common"
)

// NewMarket carries the admin-supplied fields of a market.
type NewMarket struct {
	Name        string
	AssetSymbol string
	ExpiresAt   time.Time
}

// Registry holds every market ever created in creation order.
type Registry struct {
	exec    *txn.Executor
	emitter domain.Emitter
	admin   common.Address
	clock   func() time.Time

	cfg     domain.ProtocolConfig
	nextID  uint64
	markets map[uint64]*domain.Market
	order   []uint64
}

// NewRegistry creates an empty registry administered by admin.
func NewRegistry(exec *txn.Executor, emitter domain.Emitter, admin common.Address, cfg domain.ProtocolConfig, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		exec:    exec,
		emitter: emitter,
		admin:   admin,
		clock:   clock,
		cfg:     cfg.Clone(),
		nextID:  1,
		markets: make(map[uint64]*domain.Market),
	}
}

// Admin returns the administrator identity.
func (r *Registry) Admin() common.Address { return r.admin }

// CreateMarket appends a new open market and returns its id.
func (r *Registry) CreateMarket(ctx context.Context, caller common.Address, nm NewMarket) (uint64, error) {
	var id uint64
	err := r.exec.Do(ctx, func(ctx context.Context) error {
		if caller != r.admin {
			return fmt.Errorf("market: create: %w", domain.ErrUnauthorized)
		}
		if strings.TrimSpace(nm.Name) == "" || strings.TrimSpace(nm.AssetSymbol) == "" {
			return fmt.Errorf("market: create: %w", domain.ErrEmptyName)
		}
		now := r.clock()
		if nm.ExpiresAt.Unix() <= now.Unix() {
			return fmt.Errorf("market: create: %w", domain.ErrExpirationInPast)
		}

		id = r.nextID
		r.nextID++
		m := &domain.Market{
			ID:          id,
			Name:        nm.Name,
			AssetSymbol: nm.AssetSymbol,
			Exists:      true,
			TotalStakeA: new(big.Int),
			TotalStakeB: new(big.Int),
			ExpiresAt:   nm.ExpiresAt.UTC(),
			MinStake:    domain.CopyInt(r.cfg.DefaultMinStake),
			CreatedAt:   now.UTC(),
		}
		r.markets[id] = m
		r.order = append(r.order, id)
		txn.Record(ctx, func() {
			delete(r.markets, id)
			r.order = r.order[:len(r.order)-1]
			r.nextID--
		})

		r.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventMarketCreated,
			MarketID: id,
			Account:  caller,
			Amount:   domain.CopyInt(m.MinStake),
			Detail: map[string]string{
				"name":       m.Name,
				"asset":      m.AssetSymbol,
				"expires_at": m.ExpiresAt.Format(time.RFC3339),
			},
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Details returns a copy of market id.
func (r *Registry) Details(ctx context.Context, id uint64) (domain.Market, error) {
	var (
		m  domain.Market
		ok bool
	)
	r.exec.View(ctx, func() {
		var p *domain.Market
		if p, ok = r.markets[id]; ok {
			m = p.Clone()
		}
	})
	if !ok {
		return domain.Market{}, fmt.Errorf("market: details %d: %w", id, domain.ErrMarketNotFound)
	}
	return m, nil
}

// State returns the derived lifecycle state of market id.
func (r *Registry) State(ctx context.Context, id uint64) domain.MarketState {
	m, err := r.Details(ctx, id)
	if err != nil {
		return domain.MarketStateNonexistent
	}
	return StateOf(m, r.clock())
}

// Count returns the number of markets ever created.
func (r *Registry) Count(ctx context.Context) int {
	var n int
	r.exec.View(ctx, func() { n = len(r.order) })
	return n
}

// IDAtIndex returns the id of the i-th market in creation order.
func (r *Registry) IDAtIndex(ctx context.Context, i int) (uint64, error) {
	var (
		id uint64
		ok bool
	)
	r.exec.View(ctx, func() {
		if i >= 0 && i < len(r.order) {
			id, ok = r.order[i], true
		}
	})
	if !ok {
		return 0, fmt.Errorf("market: index %d: %w", i, domain.ErrIndexOutOfRange)
	}
	return id, nil
}

// List returns markets in creation order, paginated by opts.
func (r *Registry) List(ctx context.Context, opts domain.ListOpts) []domain.Market {
	var out []domain.Market
	r.exec.View(ctx, func() {
		start := min(max(opts.Offset, 0), len(r.order))
		end := len(r.order)
		if opts.Limit > 0 && start+opts.Limit < end {
			end = start + opts.Limit
		}
		out = make([]domain.Market, 0, end-start)
		for _, id := range r.order[start:end] {
			out = append(out, r.markets[id].Clone())
		}
	})
	return out
}

// CheckExpired returns, in creation order, the ids of markets that are
// expired and unresolved at now. It does not mutate state.
func (r *Registry) CheckExpired(ctx context.Context, now time.Time) []uint64 {
	var ids []uint64
	r.exec.View(ctx, func() {
		for _, id := range r.order {
			m := r.markets[id]
			if IsExpired(now, m.ExpiresAt, m.Resolved) {
				ids = append(ids, id)
			}
		}
	})
	return ids
}

// PerformUpkeep emits a market_expired marker for every id that is still
// expired and unresolved. Other ids are skipped. Anyone may call it, and
// markers may be emitted more than once for the same market.
func (r *Registry) PerformUpkeep(ctx context.Context, caller common.Address, ids []uint64) ([]uint64, error) {
	var marked []uint64
	err := r.exec.Do(ctx, func(ctx context.Context) error {
		now := r.clock()
		for _, id := range ids {
			m, ok := r.markets[id]
			if !ok || !IsExpired(now, m.ExpiresAt, m.Resolved) {
				continue
			}
			marked = append(marked, id)
			r.emitter.Emit(ctx, domain.Event{
				Type:     domain.EventMarketExpired,
				MarketID: id,
				Account:  caller,
				Detail:   map[string]string{"expires_at": m.ExpiresAt.Format(time.RFC3339)},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// AddStake adds net to the total of outcome on market id. Settlement calls
// it inside its own unit of work after validating the stake.
func (r *Registry) AddStake(ctx context.Context, id uint64, outcome domain.Outcome, net *big.Int) error {
	return r.exec.Do(ctx, func(ctx context.Context) error {
		m, ok := r.markets[id]
		if !ok {
			return fmt.Errorf("market: add stake %d: %w", id, domain.ErrMarketNotFound)
		}
		if m.Resolved {
			return fmt.Errorf("market: add stake %d: %w", id, domain.ErrMarketAlreadyResolved)
		}
		var total *big.Int
		switch outcome {
		case domain.OutcomeA:
			total = m.TotalStakeA
		case domain.OutcomeB:
			total = m.TotalStakeB
		default:
			return fmt.Errorf("market: add stake %d: %w", id, domain.ErrInvalidOutcome)
		}
		d := new(big.Int).Set(net)
		total.Add(total, d)
		txn.Record(ctx, func() { total.Sub(total, d) })
		return nil
	})
}

// MarkResolved sets the resolved flag and winning outcome of market id.
func (r *Registry) MarkResolved(ctx context.Context, id uint64, winning domain.Outcome, price *big.Int) (domain.Market, error) {
	var out domain.Market
	err := r.exec.Do(ctx, func(ctx context.Context) error {
		m, ok := r.markets[id]
		if !ok {
			return fmt.Errorf("market: resolve %d: %w", id, domain.ErrMarketNotFound)
		}
		if m.Resolved {
			return fmt.Errorf("market: resolve %d: %w", id, domain.ErrMarketAlreadyResolved)
		}
		if !winning.Valid() {
			return fmt.Errorf("market: resolve %d: %w", id, domain.ErrInvalidOutcome)
		}
		prev := m.Clone()
		at := r.clock().UTC()
		m.Resolved = true
		m.WinningOutcome = winning
		m.ResolvedAt = &at
		m.ResolvedPrice = domain.CopyIntOrNil(price)
		txn.Record(ctx, func() {
			m.Resolved = prev.Resolved
			m.WinningOutcome = prev.WinningOutcome
			m.ResolvedAt = prev.ResolvedAt
			m.ResolvedPrice = prev.ResolvedPrice
		})
		out = m.Clone()
		return nil
	})
	return out, err
}

// SetOracleRef records the oracle binding on market id for display.
func (r *Registry) SetOracleRef(ctx context.Context, id uint64, ref domain.OracleRef) error {
	return r.exec.Do(ctx, func(ctx context.Context) error {
		m, ok := r.markets[id]
		if !ok {
			return fmt.Errorf("market: set oracle %d: %w", id, domain.ErrMarketNotFound)
		}
		prev := m.Oracle
		m.Oracle = domain.OracleRef{Base: ref.Base, Quote: ref.Quote, Threshold: domain.CopyIntOrNil(ref.Threshold)}
		txn.Record(ctx, func() { m.Oracle = prev })
		return nil
	})
}
