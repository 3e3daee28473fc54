package engine

import (
	"fmt"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Internal identities used between components. They are derived from fixed
// labels so they can never collide with a key-backed account by accident.
var (
	SettlementIdentity = DeriveIdentity("conviction.settlement")
	ResolverIdentity   = DeriveIdentity("conviction.oracle_resolver")
	ForwarderIdentity  = DeriveIdentity("conviction.claim_forwarder")

	// KeeperIdentity is the caller recorded for upkeep driven in-process.
	KeeperIdentity = DeriveIdentity("conviction.keeper")
)

// DeriveIdentity returns the address formed by the last 20 bytes of
// keccak256(label).
func DeriveIdentity(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

// Roles are the externally held privileged identities.
type Roles struct {
	Admin     common.Address
	StakeHook common.Address
}

// Validate rejects zero identities.
func (r Roles) Validate() error {
	if r.Admin == (common.Address{}) {
		return fmt.Errorf("engine: admin role: %w", domain.ErrZeroAddress)
	}
	if r.StakeHook == (common.Address{}) {
		return fmt.Errorf("engine: stake hook role: %w", domain.ErrZeroAddress)
	}
	return nil
}
