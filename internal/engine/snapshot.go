package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/conviction/internal/domain"
)

type restorableVault interface {
	Restore(pool *big.Int)
}

// Snapshot returns a consistent copy of all engine state.
func (e *Engine) Snapshot(ctx context.Context) domain.State {
	st := domain.State{Version: domain.StateVersion}
	e.exec.View(ctx, func() {
		st.TakenAt = e.clock().UTC()
		st.LastSeq = e.bus.Seq()
		e.registry.Export(&st)
		e.ledger.Export(&st)
		e.settle.Export(&st)
		e.oracle.Export(&st)
		e.claims.Export(&st)
		st.PoolBalance = e.vault.Balance()
	})
	return st
}

// Restore replaces all engine state with st. It does not emit events.
func (e *Engine) Restore(ctx context.Context, st domain.State) error {
	if st.Version != domain.StateVersion {
		return fmt.Errorf("engine: restore: unsupported snapshot version %d", st.Version)
	}
	e.exec.Exclusive(ctx, func() {
		e.registry.Import(st)
		e.ledger.Import(st)
		e.settle.Import(st)
		e.oracle.Import(st)
		e.claims.Import(st)
		e.bus.SetSeq(st.LastSeq)
		if v, ok := e.vault.(restorableVault); ok {
			v.Restore(st.PoolBalance)
		}
	})
	e.logger.Info("state restored",
		slog.Int("markets", len(st.Markets)),
		slog.Int("positions", len(st.Positions)),
		slog.Uint64("last_seq", st.LastSeq),
	)
	return nil
}
