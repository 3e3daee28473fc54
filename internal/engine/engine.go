// Package engine composes the ledger, registry, settlement, oracle resolver
// and claim forwarder over a single executor.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/conviction/internal/claim"
	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/events"
	"github.com/alanyoungcy/conviction/internal/ledger"
	"github.com/alanyoungcy/conviction/internal/market"
	"github.com/alanyoungcy/conviction/internal/oracle"
	"github.com/alanyoungcy/conviction/internal/settlement"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/alanyoungcy/conviction/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	clock  func() time.Time
	logger *slog.Logger
	vault  domain.Vault
	feed   domain.PriceFeed
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithVault replaces the default in-memory vault.
func WithVault(v domain.Vault) Option {
	return func(o *options) { o.vault = v }
}

// WithPriceFeed sets the feed consulted at resolution.
func WithPriceFeed(f domain.PriceFeed) Option {
	return func(o *options) { o.feed = f }
}

// Engine is the settlement engine.
type Engine struct {
	roles  Roles
	clock  func() time.Time
	logger *slog.Logger

	exec     *txn.Executor
	bus      *events.Bus
	vault    domain.Vault
	registry *market.Registry
	ledger   *ledger.Ledger
	settle   *settlement.Settlement
	oracle   *oracle.Resolver
	claims   *claim.Forwarder
}

// New builds an engine with cfg as the initial protocol configuration.
func New(roles Roles, cfg domain.ProtocolConfig, opts ...Option) (*Engine, error) {
	if err := roles.Validate(); err != nil {
		return nil, err
	}
	o := options{clock: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.vault == nil {
		o.vault = vault.NewMemory()
	}
	if o.feed == nil {
		return nil, fmt.Errorf("engine: price feed is required")
	}

	e := &Engine{
		roles:  roles,
		clock:  o.clock,
		logger: o.logger.With(slog.String("component", "engine")),
		vault:  o.vault,
	}
	e.bus = events.NewBus(o.clock, o.logger)
	e.exec = txn.NewExecutor(txn.WithCommitHook(e.bus.CommitHook))
	e.registry = market.NewRegistry(e.exec, e.bus, roles.Admin, cfg, o.clock)
	e.ledger = ledger.New(e.exec, e.bus, SettlementIdentity, o.clock)
	e.settle = settlement.New(e.exec, e.bus, e.registry, e.ledger, e.vault, settlement.Roles{
		Self:      SettlementIdentity,
		StakeHook: roles.StakeHook,
		Resolver:  ResolverIdentity,
		Forwarder: ForwarderIdentity,
	}, o.clock, o.logger)
	e.oracle = oracle.NewResolver(e.exec, e.bus, e.registry, e.settle, o.feed, roles.Admin, ResolverIdentity, o.clock, o.logger)
	e.claims = claim.New(e.exec, e.bus, e.ledger, e.settle, roles.Admin, ForwarderIdentity, o.logger)
	return e, nil
}

// Roles returns the configured privileged identities.
func (e *Engine) Roles() Roles { return e.roles }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock() }

// Vault returns the value pool.
func (e *Engine) Vault() domain.Vault { return e.vault }

// Subscribe registers sink for committed events.
func (e *Engine) Subscribe(name string, sink domain.EventSink) {
	e.bus.Subscribe(name, sink)
}

// CreateMarket creates a market and, when ref is non-nil, registers its
// oracle in the same unit of work.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, nm market.NewMarket, ref *domain.OracleRef) (uint64, error) {
	var id uint64
	err := e.exec.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = e.registry.CreateMarket(ctx, caller, nm)
		if err != nil {
			return err
		}
		if ref != nil {
			return e.oracle.RegisterOracle(ctx, caller, id, ref.Base, ref.Quote, ref.Threshold)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("market created", slog.Uint64("market_id", id), slog.String("name", nm.Name))
	return id, nil
}

// Market returns market id.
func (e *Engine) Market(ctx context.Context, id uint64) (domain.Market, error) {
	return e.registry.Details(ctx, id)
}

// MarketState returns the derived lifecycle state of market id.
func (e *Engine) MarketState(ctx context.Context, id uint64) domain.MarketState {
	return e.registry.State(ctx, id)
}

// Markets lists markets in creation order.
func (e *Engine) Markets(ctx context.Context, opts domain.ListOpts) []domain.Market {
	return e.registry.List(ctx, opts)
}

// MarketCount returns the number of markets.
func (e *Engine) MarketCount(ctx context.Context) int { return e.registry.Count(ctx) }

// MarketIDAt returns the id of the i-th market.
func (e *Engine) MarketIDAt(ctx context.Context, i int) (uint64, error) {
	return e.registry.IDAtIndex(ctx, i)
}

// Config returns the protocol configuration.
func (e *Engine) Config(ctx context.Context) domain.ProtocolConfig { return e.registry.Config(ctx) }

// SetGlobalMinStake is an admin setter.
func (e *Engine) SetGlobalMinStake(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.registry.SetGlobalMinStake(ctx, caller, amount)
}

// SetDefaultMinStake is an admin setter.
func (e *Engine) SetDefaultMinStake(ctx context.Context, caller common.Address, amount *big.Int) error {
	return e.registry.SetDefaultMinStake(ctx, caller, amount)
}

// SetMarketMinStake is an admin setter.
func (e *Engine) SetMarketMinStake(ctx context.Context, caller common.Address, id uint64, amount *big.Int) error {
	return e.registry.SetMarketMinStake(ctx, caller, id, amount)
}

// SetFeeConfig is an admin setter.
func (e *Engine) SetFeeConfig(ctx context.Context, caller, treasury common.Address, feeBps uint64) error {
	return e.registry.SetFeeConfig(ctx, caller, treasury, feeBps)
}

// SetMaxStaleness is an admin setter.
func (e *Engine) SetMaxStaleness(ctx context.Context, caller common.Address, d time.Duration) error {
	return e.registry.SetMaxStaleness(ctx, caller, d)
}

// CheckExpired returns the ids of markets expired and unresolved now.
func (e *Engine) CheckExpired(ctx context.Context) []uint64 {
	return e.registry.CheckExpired(ctx, e.clock())
}

// PerformUpkeep emits expiration markers for ids that still qualify.
func (e *Engine) PerformUpkeep(ctx context.Context, caller common.Address, ids []uint64) ([]uint64, error) {
	return e.registry.PerformUpkeep(ctx, caller, ids)
}

// RecordStake records a stake forwarded by the stake hook.
func (e *Engine) RecordStake(ctx context.Context, caller, user common.Address, marketID uint64, outcome domain.Outcome, declared, value *big.Int) (domain.StakeReceipt, error) {
	return e.settle.RecordStake(ctx, caller, user, marketID, outcome, declared, value)
}

// HasStaked reports whether user already staked on marketID.
func (e *Engine) HasStaked(ctx context.Context, marketID uint64, user common.Address) bool {
	return e.settle.HasStaked(ctx, marketID, user)
}

// RegisterOracle binds a market to a price pair.
func (e *Engine) RegisterOracle(ctx context.Context, caller common.Address, marketID uint64, base, quote common.Address, threshold *big.Int) error {
	return e.oracle.RegisterOracle(ctx, caller, marketID, base, quote, threshold)
}

// OracleRegistration returns the oracle binding of marketID.
func (e *Engine) OracleRegistration(ctx context.Context, marketID uint64) (domain.OracleRegistration, error) {
	return e.oracle.Registration(ctx, marketID)
}

// ResolveMarket resolves an expired market from its price feed.
func (e *Engine) ResolveMarket(ctx context.Context, caller common.Address, marketID uint64) (domain.Resolution, error) {
	return e.oracle.ResolveMarket(ctx, caller, marketID)
}

// ClaimReward claims a winning position for its holder.
func (e *Engine) ClaimReward(ctx context.Context, caller common.Address, tokenID uint64) (domain.ClaimReceipt, error) {
	return e.claims.ClaimReward(ctx, caller, tokenID)
}

// SetClaimsPaused pauses or resumes claims.
func (e *Engine) SetClaimsPaused(ctx context.Context, caller common.Address, paused bool) error {
	return e.claims.SetPaused(ctx, caller, paused)
}

// ClaimsPaused reports whether claims are paused.
func (e *Engine) ClaimsPaused(ctx context.Context) bool { return e.claims.Paused(ctx) }

// Position returns position tokenID.
func (e *Engine) Position(ctx context.Context, tokenID uint64) (domain.Position, error) {
	return e.ledger.Details(ctx, tokenID)
}

// PositionsOf returns the positions held by owner.
func (e *Engine) PositionsOf(ctx context.Context, owner common.Address) ([]domain.Position, error) {
	ids := e.ledger.TokensOf(ctx, owner)
	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		pos, err := e.ledger.Details(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// TransferPosition moves a position between holders.
func (e *Engine) TransferPosition(ctx context.Context, caller, from, to common.Address, tokenID uint64) error {
	return e.ledger.Transfer(ctx, caller, from, to, tokenID)
}

// ApprovePosition approves spender for tokenID.
func (e *Engine) ApprovePosition(ctx context.Context, caller, spender common.Address, tokenID uint64) error {
	return e.ledger.Approve(ctx, caller, spender, tokenID)
}

// SetApprovalForAll sets operator rights over caller's positions.
func (e *Engine) SetApprovalForAll(ctx context.Context, caller, operator common.Address, approved bool) error {
	return e.ledger.SetApprovalForAll(ctx, caller, operator, approved)
}

// TotalPositions returns the number of live positions.
func (e *Engine) TotalPositions(ctx context.Context) int { return e.ledger.TotalSupply(ctx) }
