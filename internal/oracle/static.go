package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type pair struct{ base, quote common.Address }

// StaticFeed is an in-memory PriceFeed for tests and local runs.
type StaticFeed struct {
	mu       sync.RWMutex
	readings map[pair]domain.PriceReading
	err      error
}

// NewStaticFeed creates an empty StaticFeed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{readings: make(map[pair]domain.PriceReading)}
}

// Set stores the reading for base/quote.
func (f *StaticFeed) Set(base, quote common.Address, price *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings[pair{base, quote}] = domain.PriceReading{Price: new(big.Int).Set(price), UpdatedAt: updatedAt}
}

// FailWith makes every lookup return err. A nil err clears the failure.
func (f *StaticFeed) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// LatestPrice implements domain.PriceFeed.
func (f *StaticFeed) LatestPrice(_ context.Context, base, quote common.Address) (domain.PriceReading, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return domain.PriceReading{}, f.err
	}
	r, ok := f.readings[pair{base, quote}]
	if !ok {
		return domain.PriceReading{}, fmt.Errorf("static feed: %s/%s: %w", base.Hex(), quote.Hex(), domain.ErrNotFound)
	}
	return domain.PriceReading{Price: new(big.Int).Set(r.Price), UpdatedAt: r.UpdatedAt}, nil
}
