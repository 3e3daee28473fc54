package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StateVersion is the current snapshot layout.
const StateVersion = 1

// State is a point-in-time copy of all engine state, used for persistence.
type State struct {
	Version      int                                 `json:"version"`
	TakenAt      time.Time                           `json:"taken_at"`
	LastSeq      uint64                              `json:"last_seq"`
	Config       ProtocolConfig                      `json:"config"`
	NextMarketID uint64                              `json:"next_market_id"`
	Markets      []Market                            `json:"markets"`
	Staked       map[uint64][]common.Address         `json:"staked"`
	Oracles      []OracleRegistration                `json:"oracles"`
	NextTokenID  uint64                              `json:"next_token_id"`
	Positions    []Position                          `json:"positions"`
	Approvals    map[uint64]common.Address           `json:"approvals,omitempty"`
	Operators    map[common.Address][]common.Address `json:"operators,omitempty"`
	ClaimsPaused bool                                `json:"claims_paused"`
	PoolBalance  *big.Int                            `json:"pool_balance"`
}
