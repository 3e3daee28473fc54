package market

import (
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// IsExpired reports whether a market has passed its expiration without
// being resolved. Expiry is always derived, never stored.
func IsExpired(now, expiresAt time.Time, resolved bool) bool {
	return !resolved && now.Unix() >= expiresAt.Unix()
}

// IsOpen reports whether a market still accepts stakes.
func IsOpen(now, expiresAt time.Time, resolved bool) bool {
	return !resolved && now.Unix() < expiresAt.Unix()
}

// StateOf derives the lifecycle state of m at now.
func StateOf(m domain.Market, now time.Time) domain.MarketState {
	switch {
	case !m.Exists:
		return domain.MarketStateNonexistent
	case m.Resolved:
		return domain.MarketStateResolved
	case IsExpired(now, m.ExpiresAt, m.Resolved):
		return domain.MarketStateExpired
	default:
		return domain.MarketStateOpen
	}
}
