package domain

import "errors"

// Input validation.
var (
	ErrZeroAddress        = errors.New("zero address")
	ErrAmountCannotBeZero = errors.New("amount cannot be zero")
	ErrNegativeAmount     = errors.New("amount must not be negative")
	ErrEmptyName          = errors.New("name must not be empty")
	ErrInvalidFee         = errors.New("fee exceeds 10000 bps")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrExpirationInPast   = errors.New("expiration must be in the future")
	ErrInvalidTokenID     = errors.New("invalid token id")
	ErrInvalidThreshold   = errors.New("oracle threshold required")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrIncorrectValue     = errors.New("transferred value does not match declared stake")
)

// State preconditions.
var (
	ErrNotFound                     = errors.New("not found")
	ErrMarketNotFound               = errors.New("market does not exist")
	ErrMarketAlreadyResolved        = errors.New("market already resolved")
	ErrMarketNotResolved            = errors.New("market not resolved")
	ErrMarketExpired                = errors.New("market expired")
	ErrMarketNotExpired             = errors.New("market not expired")
	ErrAlreadyStaked                = errors.New("already staked on this market")
	ErrStakeBelowMinimum            = errors.New("stake below minimum")
	ErrNotWinningNFT                = errors.New("position is not on the winning outcome")
	ErrClaimFailedNoStakeForOutcome = errors.New("no stake recorded for winning outcome")
	ErrTokenNotFound                = errors.New("token does not exist")
	ErrOracleAlreadyRegistered      = errors.New("oracle already registered")
	ErrOracleNotRegistered          = errors.New("oracle not registered")
	ErrClaimsPaused                 = errors.New("claims paused")
)

// External dependencies.
var (
	ErrPriceIsStale        = errors.New("oracle price is stale")
	ErrPriceFeed           = errors.New("price feed unavailable")
	ErrTransferFailed      = errors.New("value transfer failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLockHeld            = errors.New("lock already held")
	ErrRateLimited         = errors.New("rate limited")
)

// Access control.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotApproved   = errors.New("caller is not owner nor approved")
	ErrReentrantCall = errors.New("reentrant call")
)

// ErrClaimFailed is the stable error surfaced by the claim forwarder for any
// failure inside settlement.
var ErrClaimFailed = errors.New("claim failed")

// ErrorKind groups errors by how a caller should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindPrecondition
	KindNotFound
	KindExternal
	KindAccess
)

var kindTable = []struct {
	kind ErrorKind
	errs []error
}{
	{KindAccess, []error{ErrUnauthorized, ErrNotApproved, ErrReentrantCall}},
	{KindNotFound, []error{ErrNotFound, ErrMarketNotFound, ErrTokenNotFound, ErrOracleNotRegistered}},
	{KindValidation, []error{
		ErrZeroAddress, ErrAmountCannotBeZero, ErrNegativeAmount, ErrEmptyName, ErrInvalidFee,
		ErrInvalidOutcome, ErrInvalidDuration, ErrExpirationInPast, ErrInvalidTokenID,
		ErrInvalidThreshold, ErrIndexOutOfRange, ErrIncorrectValue,
	}},
	{KindExternal, []error{ErrPriceIsStale, ErrPriceFeed, ErrTransferFailed, ErrInsufficientBalance, ErrLockHeld, ErrRateLimited}},
	{KindPrecondition, []error{
		ErrMarketAlreadyResolved, ErrMarketNotResolved, ErrMarketExpired, ErrMarketNotExpired,
		ErrAlreadyStaked, ErrStakeBelowMinimum, ErrNotWinningNFT, ErrClaimFailedNoStakeForOutcome,
		ErrOracleAlreadyRegistered, ErrClaimsPaused,
	}},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	for _, row := range kindTable {
		for _, target := range row.errs {
			if errors.Is(err, target) {
				return row.kind
			}
		}
	}
	return KindInternal
}

// String returns the lower-case name of k.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindExternal:
		return "external"
	case KindAccess:
		return "access"
	default:
		return "internal"
	}
}

// codes gives every sentinel a stable wire name. Order matters: the first
// match wins, so specific errors precede the generic ones they wrap.
var codes = []struct {
	code string
	err  error
}{
	{"zero_address", ErrZeroAddress},
	{"amount_cannot_be_zero", ErrAmountCannotBeZero},
	{"negative_amount", ErrNegativeAmount},
	{"empty_name", ErrEmptyName},
	{"invalid_fee", ErrInvalidFee},
	{"invalid_outcome", ErrInvalidOutcome},
	{"invalid_duration", ErrInvalidDuration},
	{"expiration_in_past", ErrExpirationInPast},
	{"invalid_token_id", ErrInvalidTokenID},
	{"invalid_threshold", ErrInvalidThreshold},
	{"index_out_of_range", ErrIndexOutOfRange},
	{"incorrect_value", ErrIncorrectValue},
	{"market_not_found", ErrMarketNotFound},
	{"token_not_found", ErrTokenNotFound},
	{"oracle_not_registered", ErrOracleNotRegistered},
	{"market_already_resolved", ErrMarketAlreadyResolved},
	{"market_not_resolved", ErrMarketNotResolved},
	{"market_expired", ErrMarketExpired},
	{"market_not_expired", ErrMarketNotExpired},
	{"already_staked", ErrAlreadyStaked},
	{"stake_below_minimum", ErrStakeBelowMinimum},
	{"not_winning_nft", ErrNotWinningNFT},
	{"no_stake_for_outcome", ErrClaimFailedNoStakeForOutcome},
	{"oracle_already_registered", ErrOracleAlreadyRegistered},
	{"claims_paused", ErrClaimsPaused},
	{"price_is_stale", ErrPriceIsStale},
	{"price_feed", ErrPriceFeed},
	{"transfer_failed", ErrTransferFailed},
	{"insufficient_balance", ErrInsufficientBalance},
	{"lock_held", ErrLockHeld},
	{"rate_limited", ErrRateLimited},
	{"unauthorized", ErrUnauthorized},
	{"not_approved", ErrNotApproved},
	{"reentrant_call", ErrReentrantCall},
	{"not_found", ErrNotFound},
	{"claim_failed", ErrClaimFailed},
}

// CodeOf returns the wire code of the most specific sentinel in err's chain,
// or "internal".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// ErrorForCode maps a wire code back to its sentinel. Unknown codes return
// nil.
func ErrorForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
