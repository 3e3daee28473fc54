// Package ledger records positions as transferable tokens. Minting and
// burning are restricted to a single trusted minter.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the position token registry. All state is guarded by the shared
// executor.
type Ledger struct {
	exec    *txn.Executor
	emitter domain.Emitter
	minter  common.Address
	clock   func() time.Time

	nextID    uint64
	tokens    map[uint64]domain.Position
	owned     map[common.Address]map[uint64]struct{}
	approvals map[uint64]common.Address
	operators map[common.Address]map[common.Address]struct{}
}

// New creates an empty ledger whose only minter is minter.
func New(exec *txn.Executor, emitter domain.Emitter, minter common.Address, clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		exec:      exec,
		emitter:   emitter,
		minter:    minter,
		clock:     clock,
		nextID:    1,
		tokens:    make(map[uint64]domain.Position),
		owned:     make(map[common.Address]map[uint64]struct{}),
		approvals: make(map[uint64]common.Address),
		operators: make(map[common.Address]map[common.Address]struct{}),
	}
}

// Minter returns the trusted minter identity.
func (l *Ledger) Minter() common.Address { return l.minter }

// Mint creates a position for owner and returns its token id.
func (l *Ledger) Mint(ctx context.Context, caller, owner common.Address, marketID uint64, outcome domain.Outcome, netStake *big.Int) (uint64, error) {
	var id uint64
	err := l.exec.Do(ctx, func(ctx context.Context) error {
		if caller != l.minter {
			return fmt.Errorf("ledger: mint: %w", domain.ErrUnauthorized)
		}
		if owner == (common.Address{}) {
			return fmt.Errorf("ledger: mint: %w", domain.ErrZeroAddress)
		}
		if netStake == nil || netStake.Sign() <= 0 {
			return fmt.Errorf("ledger: mint: %w", domain.ErrAmountCannotBeZero)
		}
		if !outcome.Valid() {
			return fmt.Errorf("ledger: mint: %w", domain.ErrInvalidOutcome)
		}

		id = l.nextID
		l.nextID++
		txn.Record(ctx, func() { l.nextID-- })

		pos := domain.Position{
			TokenID:   id,
			Owner:     owner,
			MarketID:  marketID,
			Outcome:   outcome,
			NetStake:  new(big.Int).Set(netStake),
			CreatedAt: l.clock().UTC(),
		}
		l.put(ctx, pos)
		l.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventPositionMinted,
			MarketID: marketID,
			TokenID:  id,
			Account:  owner,
			Outcome:  outcome,
			Amount:   new(big.Int).Set(netStake),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Burn destroys tokenID. Burning a missing token fails.
func (l *Ledger) Burn(ctx context.Context, caller common.Address, tokenID uint64) error {
	return l.exec.Do(ctx, func(ctx context.Context) error {
		if caller != l.minter {
			return fmt.Errorf("ledger: burn: %w", domain.ErrUnauthorized)
		}
		pos, ok := l.tokens[tokenID]
		if !ok {
			return fmt.Errorf("ledger: burn %d: %w", tokenID, domain.ErrTokenNotFound)
		}
		l.clearApproval(ctx, tokenID)
		l.remove(ctx, tokenID)
		l.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventPositionBurned,
			MarketID: pos.MarketID,
			TokenID:  tokenID,
			Account:  pos.Owner,
			Outcome:  pos.Outcome,
			Amount:   domain.CopyInt(pos.NetStake),
		})
		return nil
	})
}

// Details returns the position for tokenID.
func (l *Ledger) Details(ctx context.Context, tokenID uint64) (domain.Position, error) {
	var (
		pos domain.Position
		ok  bool
	)
	l.exec.View(ctx, func() {
		pos, ok = l.tokens[tokenID]
		pos = pos.Clone()
	})
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: details %d: %w", tokenID, domain.ErrTokenNotFound)
	}
	return pos, nil
}

// OwnerOf returns the current holder of tokenID.
func (l *Ledger) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	pos, err := l.Details(ctx, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return pos.Owner, nil
}

// BalanceOf returns how many positions owner holds.
func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address) int {
	var n int
	l.exec.View(ctx, func() { n = len(l.owned[owner]) })
	return n
}

// TokensOf returns the token ids held by owner in ascending order.
func (l *Ledger) TokensOf(ctx context.Context, owner common.Address) []uint64 {
	var ids []uint64
	l.exec.View(ctx, func() {
		ids = make([]uint64, 0, len(l.owned[owner]))
		for id := range l.owned[owner] {
			ids = append(ids, id)
		}
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TotalSupply returns the number of live positions.
func (l *Ledger) TotalSupply(ctx context.Context) int {
	var n int
	l.exec.View(ctx, func() { n = len(l.tokens) })
	return n
}

// Approve lets spender transfer tokenID. The caller must be the holder or
// one of its operators. A zero spender clears the approval.
func (l *Ledger) Approve(ctx context.Context, caller, spender common.Address, tokenID uint64) error {
	return l.exec.Do(ctx, func(ctx context.Context) error {
		pos, ok := l.tokens[tokenID]
		if !ok {
			return fmt.Errorf("ledger: approve %d: %w", tokenID, domain.ErrTokenNotFound)
		}
		if caller != pos.Owner && !l.isOperator(pos.Owner, caller) {
			return fmt.Errorf("ledger: approve %d: %w", tokenID, domain.ErrNotApproved)
		}
		prev, had := l.approvals[tokenID]
		if spender == (common.Address{}) {
			delete(l.approvals, tokenID)
		} else {
			l.approvals[tokenID] = spender
		}
		txn.Record(ctx, func() {
			if had {
				l.approvals[tokenID] = prev
			} else {
				delete(l.approvals, tokenID)
			}
		})
		return nil
	})
}

// GetApproved returns the approved spender of tokenID, if any.
func (l *Ledger) GetApproved(ctx context.Context, tokenID uint64) (common.Address, error) {
	var (
		spender common.Address
		exists  bool
	)
	l.exec.View(ctx, func() {
		_, exists = l.tokens[tokenID]
		spender = l.approvals[tokenID]
	})
	if !exists {
		return common.Address{}, fmt.Errorf("ledger: get approved %d: %w", tokenID, domain.ErrTokenNotFound)
	}
	return spender, nil
}

// SetApprovalForAll grants or revokes operator rights over all of caller's
// positions.
func (l *Ledger) SetApprovalForAll(ctx context.Context, caller, operator common.Address, approved bool) error {
	if operator == (common.Address{}) {
		return fmt.Errorf("ledger: set approval for all: %w", domain.ErrZeroAddress)
	}
	return l.exec.Do(ctx, func(ctx context.Context) error {
		was := l.isOperator(caller, operator)
		if was == approved {
			return nil
		}
		l.setOperator(caller, operator, approved)
		txn.Record(ctx, func() { l.setOperator(caller, operator, was) })
		return nil
	})
}

// IsApprovedForAll reports whether operator may manage all of owner's
// positions.
func (l *Ledger) IsApprovedForAll(ctx context.Context, owner, operator common.Address) bool {
	var ok bool
	l.exec.View(ctx, func() { ok = l.isOperator(owner, operator) })
	return ok
}

// Transfer moves tokenID from from to to. The caller must be the holder, the
// approved spender, or an operator of the holder.
func (l *Ledger) Transfer(ctx context.Context, caller, from, to common.Address, tokenID uint64) error {
	return l.exec.Do(ctx, func(ctx context.Context) error {
		pos, ok := l.tokens[tokenID]
		if !ok {
			return fmt.Errorf("ledger: transfer %d: %w", tokenID, domain.ErrTokenNotFound)
		}
		if to == (common.Address{}) {
			return fmt.Errorf("ledger: transfer %d: %w", tokenID, domain.ErrZeroAddress)
		}
		if pos.Owner != from {
			return fmt.Errorf("ledger: transfer %d: from is not the holder: %w", tokenID, domain.ErrNotApproved)
		}
		if caller != from && l.approvals[tokenID] != caller && !l.isOperator(from, caller) {
			return fmt.Errorf("ledger: transfer %d: %w", tokenID, domain.ErrNotApproved)
		}

		l.clearApproval(ctx, tokenID)
		l.remove(ctx, tokenID)
		pos.Owner = to
		l.put(ctx, pos)
		l.emitter.Emit(ctx, domain.Event{
			Type:     domain.EventPositionTransferred,
			MarketID: pos.MarketID,
			TokenID:  tokenID,
			Account:  to,
			Outcome:  pos.Outcome,
			Amount:   domain.CopyInt(pos.NetStake),
			Detail:   map[string]string{"from": from.Hex()},
		})
		return nil
	})
}

// put stores pos and indexes it by owner.
func (l *Ledger) put(ctx context.Context, pos domain.Position) {
	id := pos.TokenID
	l.tokens[id] = pos
	set := l.owned[pos.Owner]
	if set == nil {
		set = make(map[uint64]struct{})
		l.owned[pos.Owner] = set
	}
	set[id] = struct{}{}
	txn.Record(ctx, func() {
		delete(l.tokens, id)
		l.unindex(pos.Owner, id)
	})
}

func (l *Ledger) remove(ctx context.Context, tokenID uint64) {
	pos := l.tokens[tokenID]
	delete(l.tokens, tokenID)
	l.unindex(pos.Owner, tokenID)
	txn.Record(ctx, func() {
		l.tokens[tokenID] = pos
		set := l.owned[pos.Owner]
		if set == nil {
			set = make(map[uint64]struct{})
			l.owned[pos.Owner] = set
		}
		set[tokenID] = struct{}{}
	})
}

func (l *Ledger) unindex(owner common.Address, tokenID uint64) {
	set := l.owned[owner]
	delete(set, tokenID)
	if len(set) == 0 {
		delete(l.owned, owner)
	}
}

func (l *Ledger) clearApproval(ctx context.Context, tokenID uint64) {
	prev, had := l.approvals[tokenID]
	if !had {
		return
	}
	delete(l.approvals, tokenID)
	txn.Record(ctx, func() { l.approvals[tokenID] = prev })
}

func (l *Ledger) isOperator(owner, operator common.Address) bool {
	_, ok := l.operators[owner][operator]
	return ok
}

func (l *Ledger) setOperator(owner, operator common.Address, approved bool) {
	if approved {
		set := l.operators[owner]
		if set == nil {
			set = make(map[common.Address]struct{})
			l.operators[owner] = set
		}
		set[operator] = struct{}{}
		return
	}
	set := l.operators[owner]
	delete(set, operator)
	if len(set) == 0 {
		delete(l.operators, owner)
	}
}
