package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pair is
// stored at "conviction:price:{base}:{quote}" with fields "price" (decimal
// integer) and "ts" (Unix nanoseconds). An external pusher writes it; the
// oracle resolver reads it as its price feed.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func priceKey(base, quote common.Address) string {
	return KeyPrefix + "price:" + strings.ToLower(base.Hex()) + ":" + strings.ToLower(quote.Hex())
}

// SetPrice stores the latest price and its observation time for a pair.
func (pc *PriceCache) SetPrice(ctx context.Context, base, quote common.Address, price *big.Int, ts time.Time) error {
	if price == nil {
		return fmt.Errorf("redis: set price: %w", domain.ErrAmountCannotBeZero)
	}
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(base, quote), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", base.Hex(), quote.Hex(), err)
	}
	return nil
}

// LatestPrice returns the stored reading for a pair, or domain.ErrNotFound.
func (pc *PriceCache) LatestPrice(ctx context.Context, base, quote common.Address) (domain.PriceReading, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(base, quote)).Result()
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: get price %s/%s: %w", base.Hex(), quote.Hex(), err)
	}
	return parseReading(vals)
}

func parseReading(vals map[string]string) (domain.PriceReading, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceReading{}, domain.ErrNotFound
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return domain.PriceReading{}, fmt.Errorf("redis: parse price %q", priceStr)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.PriceReading{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse ts: %w", err)
	}
	return domain.PriceReading{Price: price, UpdatedAt: time.Unix(0, tsNano).UTC()}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
