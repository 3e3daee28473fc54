package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Outcome is one of the two mutually exclusive results a market can resolve to.
type Outcome uint8

const (
	OutcomeUnset Outcome = iota
	OutcomeA             // price >= threshold
	OutcomeB             // price < threshold
)

// Valid reports whether o names one of the two tradable outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeA || o == OutcomeB
}

// Other returns the opposite outcome. OutcomeUnset maps to itself.
func (o Outcome) Other() Outcome {
	switch o {
	case OutcomeA:
		return OutcomeB
	case OutcomeB:
		return OutcomeA
	default:
		return OutcomeUnset
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeA:
		return "A"
	case OutcomeB:
		return "B"
	default:
		return "unset"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText accepts "A"/"B" (case-insensitive), "1"/"2", and "unset".
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutcome converts a textual outcome into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "1":
		return OutcomeA, nil
	case "B", "2":
		return OutcomeB, nil
	case "", "UNSET", "0":
		return OutcomeUnset, nil
	default:
		return OutcomeUnset, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// OracleRef binds a market to a price pair and the threshold that splits the
// two outcomes.
type OracleRef struct {
	Base      common.Address `json:"base"`
	Quote     common.Address `json:"quote"`
	Threshold *big.Int       `json:"threshold"`
}

// IsZero reports whether no oracle has been bound.
func (r OracleRef) IsZero() bool {
	return r.Base == (common.Address{}) && r.Quote == (common.Address{}) && r.Threshold == nil
}

// Market is a single binary price-threshold market. Stake totals are net of
// protocol fees.
type Market struct {
	ID             uint64     `json:"id"`
	Name           string     `json:"name"`
	AssetSymbol    string     `json:"asset_symbol"`
	Exists         bool       `json:"exists"`
	Resolved       bool       `json:"resolved"`
	WinningOutcome Outcome    `json:"winning_outcome"`
	TotalStakeA    *big.Int   `json:"total_stake_a"`
	TotalStakeB    *big.Int   `json:"total_stake_b"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Oracle         OracleRef  `json:"oracle"`
	MinStake       *big.Int   `json:"min_stake"` // zero means the global minimum applies
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedPrice  *big.Int   `json:"resolved_price,omitempty"`
}

// TotalStake returns the net stake recorded for outcome o.
func (m Market) TotalStake(o Outcome) *big.Int {
	switch o {
	case OutcomeA:
		return orZero(m.TotalStakeA)
	case OutcomeB:
		return orZero(m.TotalStakeB)
	default:
		return new(big.Int)
	}
}

// PrizePool is the sum of both outcome totals.
func (m Market) PrizePool() *big.Int {
	return new(big.Int).Add(orZero(m.TotalStakeA), orZero(m.TotalStakeB))
}

// Clone returns a deep copy so callers cannot mutate registry state through
// shared big.Int pointers.
func (m Market) Clone() Market {
	out := m
	out.TotalStakeA = CopyInt(m.TotalStakeA)
	out.TotalStakeB = CopyInt(m.TotalStakeB)
	out.MinStake = CopyInt(m.MinStake)
	out.Oracle.Threshold = CopyIntOrNil(m.Oracle.Threshold)
	out.ResolvedPrice = CopyIntOrNil(m.ResolvedPrice)
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// MarketState is the derived lifecycle state of a market.
type MarketState string

const (
	MarketStateNonexistent MarketState = "nonexistent"
	MarketStateOpen        MarketState = "open"
	MarketStateExpired     MarketState = "expired"
	MarketStateResolved    MarketState = "resolved"
)

// OracleRegistration is the once-per-market binding consulted at resolution.
type OracleRegistration struct {
	MarketID     uint64    `json:"market_id"`
	Oracle       OracleRef `json:"oracle"`
	RegisteredAt time.Time `json:"registered_at"`
}

// PriceReading is a single observation from a price source.
type PriceReading struct {
	Price     *big.Int  `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resolution reports the outcome of a successful resolution.
type Resolution struct {
	MarketID       uint64   `json:"market_id"`
	WinningOutcome Outcome  `json:"winning_outcome"`
	Price          *big.Int `json:"price"`
	PrizePool      *big.Int `json:"prize_pool"`
}

// CopyInt returns a copy of v, treating nil as zero.
func CopyInt(v *big.Int) *big.Int {
	return new(big.Int).Set(orZero(v))
}

// CopyIntOrNil returns a copy of v, preserving nil.
func CopyIntOrNil(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
