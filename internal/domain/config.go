package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeBps is the upper bound of the protocol fee (100%).
const MaxFeeBps uint64 = 10_000

// ProtocolConfig holds the admin-tunable parameters shared by every market.
type ProtocolConfig struct {
	FeeBps          uint64         `json:"fee_bps"`
	Treasury        common.Address `json:"treasury"`
	GlobalMinStake  *big.Int       `json:"global_min_stake"`
	DefaultMinStake *big.Int       `json:"default_min_stake"`
	MaxStaleness    time.Duration  `json:"max_staleness"`
}

// Clone returns a deep copy of c.
func (c ProtocolConfig) Clone() ProtocolConfig {
	out := c
	out.GlobalMinStake = CopyInt(c.GlobalMinStake)
	out.DefaultMinStake = CopyInt(c.DefaultMinStake)
	return out
}

// EffectiveMinStake returns the market's own minimum when set, otherwise
// the global minimum.
func (c ProtocolConfig) EffectiveMinStake(m Market) *big.Int {
	if m.MinStake != nil && m.MinStake.Sign() > 0 {
		return new(big.Int).Set(m.MinStake)
	}
	return CopyInt(c.GlobalMinStake)
}
