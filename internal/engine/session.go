package engine

import (
	"context"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Session binds the public scheduler-facing operations to one caller.
type Session struct {
	engine *Engine
	caller common.Address
}

// As returns a Session acting as caller.
func (e *Engine) As(caller common.Address) *Session {
	return &Session{engine: e, caller: caller}
}

// CheckExpired returns the ids of markets expired and unresolved now.
func (s *Session) CheckExpired(ctx context.Context) ([]uint64, error) {
	return s.engine.CheckExpired(ctx), nil
}

// PerformUpkeep emits expiration markers for ids.
func (s *Session) PerformUpkeep(ctx context.Context, ids []uint64) ([]uint64, error) {
	return s.engine.PerformUpkeep(ctx, s.caller, ids)
}

// ResolveMarket resolves marketID from its price feed.
func (s *Session) ResolveMarket(ctx context.Context, marketID uint64) (domain.Resolution, error) {
	return s.engine.ResolveMarket(ctx, s.caller, marketID)
}
