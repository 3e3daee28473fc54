package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vault holds the value backing all stakes and moves it out to recipients.
type Vault interface {
	// Credit records value received alongside a stake.
	Credit(ctx context.Context, from common.Address, amount *big.Int) error
	// Transfer moves amount out of the pool. A failed transfer leaves no
	// partial effect.
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
	// Balance returns the pool balance.
	Balance() *big.Int
}
