package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed state change.
type EventType string

const (
	EventMarketCreated       EventType = "market_created"
	EventStakeRecorded       EventType = "stake_recorded"
	EventPositionMinted      EventType = "position_minted"
	EventPositionBurned      EventType = "position_burned"
	EventPositionTransferred EventType = "position_transferred"
	EventMarketExpired       EventType = "market_expired"
	EventMarketResolved      EventType = "market_resolved"
	EventRewardClaimed       EventType = "reward_claimed"
	EventOracleRegistered    EventType = "oracle_registered"
	EventConfigChanged       EventType = "config_changed"
	EventClaimsPaused        EventType = "claims_paused"
)

// Event is an observable record of a committed state change. ID and Seq are
// assigned at commit; uncommitted events are never delivered.
type Event struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	Type      EventType         `json:"type"`
	MarketID  uint64            `json:"market_id,omitempty"`
	TokenID   uint64            `json:"token_id,omitempty"`
	Account   common.Address    `json:"account,omitempty"`
	Outcome   Outcome           `json:"outcome,omitempty"`
	Amount    *big.Int          `json:"amount,omitempty"`
	Fee       *big.Int          `json:"fee,omitempty"`
	Price     *big.Int          `json:"price,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Emitter stages an event inside the active unit of work.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// EventSink receives committed events in commit order.
type EventSink interface {
	Handle(ctx context.Context, events []Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, events []Event) error

// Handle calls f.
func (f EventSinkFunc) Handle(ctx context.Context, events []Event) error {
	return f(ctx, events)
}
