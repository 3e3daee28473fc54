package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a transferable record of one holder's stake on one market.
// It is burned only when a winning position is claimed.
type Position struct {
	TokenID   uint64         `json:"token_id"`
	Owner     common.Address `json:"owner"`
	MarketID  uint64         `json:"market_id"`
	Outcome   Outcome        `json:"outcome"`
	NetStake  *big.Int       `json:"net_stake"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a deep copy of p.
func (p Position) Clone() Position {
	out := p
	out.NetStake = CopyInt(p.NetStake)
	return out
}

// StakeReceipt is returned by a successful stake.
type StakeReceipt struct {
	MarketID uint64         `json:"market_id"`
	TokenID  uint64         `json:"token_id"`
	User     common.Address `json:"user"`
	Outcome  Outcome        `json:"outcome"`
	NetStake *big.Int       `json:"net_stake"`
	Fee      *big.Int       `json:"fee"`
}

// ClaimReceipt is returned by a successful claim.
type ClaimReceipt struct {
	MarketID uint64         `json:"market_id"`
	TokenID  uint64         `json:"token_id"`
	Owner    common.Address `json:"owner"`
	Reward   *big.Int       `json:"reward"`
}
