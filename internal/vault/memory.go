// Package vault holds the pooled value behind all stakes.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/ethereum/go-ethereum/common"
)

// Receiver is invoked when value is sent to its address, inside the sending
// unit of work. Returning an error rejects the transfer.
type Receiver func(ctx context.Context, amount *big.Int) error

// Memory is an in-process Vault. Balance changes are journaled in the active
// unit of work so they roll back with the rest of the engine state.
type Memory struct {
	mu        sync.RWMutex
	pool      *big.Int
	paid      map[common.Address]*big.Int
	receivers map[common.Address]Receiver
}

// NewMemory creates an empty vault.
func NewMemory() *Memory {
	return &Memory{
		pool:      new(big.Int),
		paid:      make(map[common.Address]*big.Int),
		receivers: make(map[common.Address]Receiver),
	}
}

// SetReceiver installs r as the recipient hook for addr. A nil r removes it.
func (m *Memory) SetReceiver(addr common.Address, r Receiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == nil {
		delete(m.receivers, addr)
		return
	}
	m.receivers[addr] = r
}

// Credit adds amount to the pool.
func (m *Memory) Credit(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: credit: %w", domain.ErrAmountCannotBeZero)
	}
	m.addPool(ctx, amount)
	return nil
}

// Transfer moves amount from the pool to to. The recipient hook, if any, runs
// after the balances move; its error reverts them.
func (m *Memory) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("vault: transfer: %w", domain.ErrZeroAddress)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("vault: transfer: %w", domain.ErrAmountCannotBeZero)
	}
	m.mu.RLock()
	short := m.pool.Cmp(amount) < 0
	recv := m.receivers[to]
	m.mu.RUnlock()
	if short {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, domain.ErrInsufficientBalance)
	}

	neg := new(big.Int).Neg(amount)
	m.addPool(ctx, neg)
	m.addPaid(ctx, to, amount)

	if recv != nil {
		if err := recv(ctx, new(big.Int).Set(amount)); err != nil {
			m.addPaid(ctx, to, neg)
			m.addPool(ctx, amount)
			return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
		}
	}
	return nil
}

// Balance returns the pool balance.
func (m *Memory) Balance() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.pool)
}

// Paid returns the total value transferred out to addr.
func (m *Memory) Paid(addr common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.CopyInt(m.paid[addr])
}

// Restore replaces the pool balance. Paid totals are not persisted.
func (m *Memory) Restore(pool *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool = domain.CopyInt(pool)
	m.paid = make(map[common.Address]*big.Int)
}

func (m *Memory) addPool(ctx context.Context, delta *big.Int) {
	d := new(big.Int).Set(delta)
	m.mu.Lock()
	m.pool.Add(m.pool, d)
	m.mu.Unlock()
	txn.Record(ctx, func() {
		m.mu.Lock()
		m.pool.Sub(m.pool, d)
		m.mu.Unlock()
	})
}

func (m *Memory) addPaid(ctx context.Context, addr common.Address, delta *big.Int) {
	d := new(big.Int).Set(delta)
	m.mu.Lock()
	prev, had := m.paid[addr]
	next := new(big.Int).Add(domain.CopyInt(prev), d)
	m.paid[addr] = next
	m.mu.Unlock()
	txn.Record(ctx, func() {
		m.mu.Lock()
		if had {
			m.paid[addr] = prev
		} else {
			delete(m.paid, addr)
		}
		m.mu.Unlock()
	})
}
