// Package claim is the public entry point for reward claims. It guards
// settlement against reentrancy and presents a stable error contract.
package claim

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/ethereum/go-ethereum/common"
)

// Positions reads position details.
type Positions interface {
	Details(ctx context.Context, tokenID uint64) (domain.Position, error)
}

// Claimer pays a winning position.
type Claimer interface {
	Claim(ctx context.Context, caller common.Address, marketID, tokenID uint64, outcome domain.Outcome, stake *big.Int, owner common.Address) (*big.Int, error)
}

// ClaimError wraps any failure raised behind the forwarder. It matches
// domain.ErrClaimFailed and unwraps to the underlying cause.
type ClaimError struct {
	TokenID uint64
	Cause   error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim: token %d: %s: %v", e.TokenID, domain.ErrClaimFailed, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ClaimError) Unwrap() error { return e.Cause }

// Is reports whether target is domain.ErrClaimFailed.
func (e *ClaimError) Is(target error) bool { return target == domain.ErrClaimFailed }

// Forwarder forwards claims to settlement under its own identity.
type Forwarder struct {
	exec      *txn.Executor
	emitter   domain.Emitter
	positions Positions
	claimer   Claimer
	admin     common.Address
	identity  common.Address
	logger    *slog.Logger

	paused  bool
	entered bool
}

// New creates a Forwarder.
func New(exec *txn.Executor, emitter domain.Emitter, positions Positions, claimer Claimer, admin, identity common.Address, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		exec:      exec,
		emitter:   emitter,
		positions: positions,
		claimer:   claimer,
		admin:     admin,
		identity:  identity,
		logger:    logger.With(slog.String("component", "claim_forwarder")),
	}
}

// Identity returns the caller identity used towards settlement.
func (f *Forwarder) Identity() common.Address { return f.identity }

// ClaimReward claims tokenID on behalf of its current holder. Anyone may
// call it; the reward always goes to the holder.
func (f *Forwarder) ClaimReward(ctx context.Context, caller common.Address, tokenID uint64) (domain.ClaimReceipt, error) {
	if tokenID == 0 {
		return domain.ClaimReceipt{}, fmt.Errorf("claim: %w", domain.ErrInvalidTokenID)
	}

	var receipt domain.ClaimReceipt
	err := f.exec.Do(ctx, func(ctx context.Context) error {
		if f.paused {
			return fmt.Errorf("claim: %w", domain.ErrClaimsPaused)
		}
		if f.entered {
			return fmt.Errorf("claim: token %d: %w", tokenID, domain.ErrReentrantCall)
		}
		f.entered = true
		defer func() { f.entered = false }()

		pos, err := f.positions.Details(ctx, tokenID)
		if err != nil {
			return &ClaimError{TokenID: tokenID, Cause: err}
		}
		reward, err := f.claimer.Claim(ctx, f.identity, pos.MarketID, tokenID, pos.Outcome, pos.NetStake, pos.Owner)
		if err != nil {
			return &ClaimError{TokenID: tokenID, Cause: err}
		}
		receipt = domain.ClaimReceipt{
			MarketID: pos.MarketID,
			TokenID:  tokenID,
			Owner:    pos.Owner,
			Reward:   reward,
		}
		return nil
	})
	if err != nil {
		f.logger.Debug("claim rejected",
			slog.Uint64("token_id", tokenID),
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		return domain.ClaimReceipt{}, err
	}
	return receipt, nil
}

// SetPaused blocks or unblocks all claims.
func (f *Forwarder) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	return f.exec.Do(ctx, func(ctx context.Context) error {
		if caller != f.admin {
			return fmt.Errorf("claim: set paused: %w", domain.ErrUnauthorized)
		}
		prev := f.paused
		f.paused = paused
		txn.Record(ctx, func() { f.paused = prev })
		f.emitter.Emit(ctx, domain.Event{
			Type:    domain.EventClaimsPaused,
			Account: caller,
			Detail:  map[string]string{"paused": strconv.FormatBool(paused)},
		})
		return nil
	})
}

// Paused reports whether claims are blocked.
func (f *Forwarder) Paused(ctx context.Context) bool {
	var p bool
	f.exec.View(ctx, func() { p = f.paused })
	return p
}

// Export copies the pause flag into st. The caller must hold the executor
// lock.
func (f *Forwarder) Export(st *domain.State) { st.ClaimsPaused = f.paused }

// Import restores the pause flag from st. The caller must hold the executor
// lock.
func (f *Forwarder) Import(st domain.State) { f.paused = st.ClaimsPaused }
