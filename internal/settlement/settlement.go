// Package settlement is the pari-mutuel core: it records stakes, resolves
// markets and pays winning positions from the shared pool.
package settlement

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

// Markets is the registry surface settlement reads and mutates.
type Markets interface {
	Details(ctx context.Context, id uint64) (domain.Market, error)
	Config(ctx context.Context) domain.ProtocolConfig
	AddStake(ctx context.Context, id uint64, outcome domain.Outcome, net *big.Int) error
	MarkResolved(ctx context.Context, id uint64, winning domain.Outcome, price *big.Int) (domain.Market, error)
}

// Positions is the ledger surface settlement mints and burns through.
type Positions interface {
	Mint(ctx context.Context, caller, owner common.Address, marketID uint64, outcome domain.Outcome, netStake *big.Int) (uint64, error)
	Burn(ctx context.Context, caller common.Address, tokenID uint64) error
}

// Roles names the identities settlement trusts.
type Roles struct {
	Self      common.Address // caller identity towards the ledger
	StakeHook common.Address
	Resolver  common.Address
	Forwarder common.Address
}

// Settlement implements stake recording, resolution and claims.
type Settlement struct {
	exec      *txn.Executor
	emitter   domain.Emitter
	markets   Markets
	positions Positions
	vault     domain.Vault
	roles     Roles
	clock     func() time.Time
	logger    *slog.Logger

	staked map[uint64]map[common.Address]struct{}
}

// New creates a Settlement.
func New(exec *txn.Executor, emitter domain.Emitter, markets Markets, positions Positions, vault domain.Vault, roles Roles, clock func() time.Time, logger *slog.Logger) *Settlement {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Settlement{
		exec:      exec,
		emitter:   emitter,
		markets:   markets,
		positions: positions,
		vault:     vault,
		roles:     roles,
		clock:     clock,
		logger:    logger.With(slog.String("component", "settlement")),
		staked:    make(map[uint64]map[common.Address]struct{}),
	}
}

// RecordStake records user's stake of declared on outcome. value is the
// amount actually transferred with the call and must equal declared.
func (s *Settlement) RecordStake(ctx context.Context, caller, user common.Address, marketID uint64, outcome domain.Outcome, declared, value *big.Int) (domain.StakeReceipt, error) {
	var receipt domain.StakeReceipt
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		if caller != s.roles.StakeHook {
			return fmt.Errorf("settlement: record stake: %w", domain.ErrUnauthorized)
		}
		if user == (common.Address{}) {
			return fmt.Errorf("settlement: record stake: %w", domain.ErrZeroAddress)
		}
		if declared == nil || declared.Sign() <= 0 {
			return fmt.Errorf("settlement: record stake: %w", domain.ErrAmountCannotBeZero)
		}
		if !outcome.Valid() {
			return fmt.Errorf("settlement: record stake: %w", domain.ErrInvalidOutcome)
		}
		m, err := s.markets.Details(ctx, marketID)
		if err != nil {
			return fmt.Errorf("settlement: record stake: %w", err)
		}
		if m.Resolved {
			return fmt.Errorf("settlement: record stake %d: %w", marketID, domain.ErrMarketAlreadyResolved)
		}
		if !market.IsOpen(s.clock(), m.ExpiresAt, m.Resolved) {
			return fmt.Errorf("settlement: record stake %d: %w", marketID, domain.ErrMarketExpired)
		}
		if s.hasStaked(marketID, user) {
			return fmt.Errorf("settlement: record stake %d: %w", marketID, domain.ErrAlreadyStaked)
		}
		if value == nil || value.Cmp(declared) != 0 {
			return fmt.Errorf("settlement: record stake %d: %w", marketID, domain.ErrIncorrectValue)
		}

		cfg := s.markets.Config(ctx)
		fee, net := ComputeFee(declared, cfg.FeeBps)
		if net.Sign() == 0 {
			return fmt.Errorf("settlement: record stake %d: %w", marketID, domain.ErrAmountCannotBeZero)
		}
		if minStake := cfg.EffectiveMinStake(m); net.Cmp(minStake) < 0 {
			return fmt.Errorf("settlement: record stake %d: net %s below %s: %w",
				marketID, net, minStake, domain.ErrStakeBelowMinimum)
		}

		if err := s.vault.Credit(ctx, user, declared); err != nil {
			return fmt.Errorf("settlement: record stake: %w", err)
		}
		// Totals and the has-staked mark are set before the fee leaves the
		// vault, so a treasury that calls back in sees this stake.
		if err := s.markets.AddStake(ctx, marketID, outcome, net); err != nil {
			return fmt.Errorf("settlement: record stake: %w", err)
		}
		s.markStaked(ctx, marketID, user)
		if fee.Sign() > 0 {
			if err := s.vault.Transfer(ctx, cfg.Treasury, fee); err != nil {
				return fmt.Errorf("settlement: fee to treasury: %w", err)
			}
		}
		tokenID, err := s.positions.Mint(ctx, s.roles.Self, user, marketID, outcome, net)
		if err != nil {
			return fmt.Errorf("settlement: mint position: %w", err)
		}

		receipt = domain.StakeReceipt{
			MarketID: marketID,
			TokenID:  tokenID,
			User:     user,
			Outcome:  outcome,
			NetStake: net,
			Fee:      fee,
		}
		s.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventStakeRecorded,
			MarketID: marketID,
			TokenID:  tokenID,
			Account:  user,
			Outcome:  outcome,
			Amount:   new(big.Int).Set(net),
			Fee:      new(big.Int).Set(fee),
		})
		return nil
	})
	if err != nil {
		return domain.StakeReceipt{}, err
	}
	s.logger.Debug("stake recorded",
		slog.Uint64("market_id", marketID),
		slog.Uint64("token_id", receipt.TokenID),
		slog.String("net", receipt.NetStake.String()),
	)
	return receipt, nil
}

// Resolve closes market id with the winning outcome. price is informational.
// The returned prize pool is not stored.
func (s *Settlement) Resolve(ctx context.Context, caller common.Address, marketID uint64, winning domain.Outcome, price *big.Int) (domain.Resolution, error) {
	var res domain.Resolution
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		if caller != s.roles.Resolver {
			return fmt.Errorf("settlement: resolve: %w", domain.ErrUnauthorized)
		}
		m, err := s.markets.MarkResolved(ctx, marketID, winning, price)
		if err != nil {
			return fmt.Errorf("settlement: resolve: %w", err)
		}
		res = domain.Resolution{
			MarketID:       marketID,
			WinningOutcome: winning,
			Price:          domain.CopyIntOrNil(price),
			PrizePool:      m.PrizePool(),
		}
		s.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventMarketResolved,
			MarketID: marketID,
			Outcome:  winning,
			Amount:   m.PrizePool(),
			Price:    domain.CopyIntOrNil(price),
		})
		return nil
	})
	if err != nil {
		return domain.Resolution{}, err
	}
	return res, nil
}

// Claim burns a winning position and pays owner its pari-mutuel reward. The
// burn happens before payment; a failed payment undoes the burn.
func (s *Settlement) Claim(ctx context.Context, caller common.Address, marketID, tokenID uint64, outcome domain.Outcome, stake *big.Int, owner common.Address) (*big.Int, error) {
	var reward *big.Int
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		if caller != s.roles.Forwarder {
			return fmt.Errorf("settlement: claim: %w", domain.ErrUnauthorized)
		}
		m, err := s.markets.Details(ctx, marketID)
		if err != nil {
			return fmt.Errorf("settlement: claim: %w", err)
		}
		if !m.Resolved {
			return fmt.Errorf("settlement: claim %d: %w", marketID, domain.ErrMarketNotResolved)
		}
		if outcome != m.WinningOutcome {
			return fmt.Errorf("settlement: claim token %d: %w", tokenID, domain.ErrNotWinningNFT)
		}
		r, err := ComputeReward(stake, m.TotalStake(m.WinningOutcome), m.TotalStake(m.WinningOutcome.Other()))
		if err != nil {
			return fmt.Errorf("settlement: claim %d: %w", marketID, err)
		}

		if err := s.positions.Burn(ctx, s.roles.Self, tokenID); err != nil {
			return fmt.Errorf("settlement: claim: %w", err)
		}
		if err := s.vault.Transfer(ctx, owner, r); err != nil {
			return fmt.Errorf("settlement: pay reward: %w", err)
		}

		reward = r
		s.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventRewardClaimed,
			MarketID: marketID,
			TokenID:  tokenID,
			Account:  owner,
			Outcome:  outcome,
			Amount:   new(big.Int).Set(r),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reward, nil
}

// HasStaked reports whether user already holds a stake on marketID.
func (s *Settlement) HasStaked(ctx context.Context, marketID uint64, user common.Address) bool {
	var ok bool
	s.exec.View(ctx, func() { ok = s.hasStaked(marketID, user) })
	return ok
}

func (s *Settlement) hasStaked(marketID uint64, user common.Address) bool {
	_, ok := s.staked[marketID][user]
	return ok
}

func (s *Settlement) markStaked(ctx context.Context, marketID uint64, user common.Address) {
	set := s.staked[marketID]
	if set == nil {
		set = make(map[common.Address]struct{})
		s.staked[marketID] = set
	}
	set[user] = struct{}{}
	txn.Record(ctx, func() {
		delete(set, user)
		if len(set) == 0 {
			delete(s.staked, marketID)
		}
	})
}
