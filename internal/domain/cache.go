package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceFeed returns the latest price of base denominated in quote.
type PriceFeed interface {
	LatestPrice(ctx context.Context, base, quote common.Address) (PriceReading, error)
}

// PriceCache stores pushed prices for a PriceFeed to read.
type PriceCache interface {
	SetPrice(ctx context.Context, base, quote common.Address, price *big.Int, ts time.Time) error
	PriceFeed
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry of a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
	StreamDelete(ctx context.Context, stream string, ids ...string) error
}
