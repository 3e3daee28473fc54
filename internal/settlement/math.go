package settlement

import (
	"math/big"

	"github.com/alanyoungcy/conviction/internal/domain"
)

var bpsDenominator = big.NewInt(int64(domain.MaxFeeBps))

// ComputeFee splits a declared stake into the protocol fee and the net stake:
// fee = floor(declared * feeBps / 10000). feeBps above 10000 is clamped.
func ComputeFee(declared *big.Int, feeBps uint64) (fee, net *big.Int) {
	if feeBps > domain.MaxFeeBps {
		feeBps = domain.MaxFeeBps
	}
	d := domain.CopyInt(declared)
	fee = new(big.Int).Mul(d, new(big.Int).SetUint64(feeBps))
	fee.Quo(fee, bpsDenominator)
	net = new(big.Int).Sub(d, fee)
	return fee, net
}

// ComputeReward returns stake + floor(stake * losingTotal / winningTotal).
// The truncation leaves undistributed dust of less than one unit per winner.
func ComputeReward(stake, winningTotal, losingTotal *big.Int) (*big.Int, error) {
	if winningTotal == nil || winningTotal.Sign() == 0 {
		return nil, domain.ErrClaimFailedNoStakeForOutcome
	}
	s := domain.CopyInt(stake)
	share := new(big.Int).Mul(s, domain.CopyInt(losingTotal))
	share.Quo(share, winningTotal)
	return share.Add(share, s), nil
}
