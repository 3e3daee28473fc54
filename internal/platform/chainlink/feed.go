// Package chainlink reads prices from a Chainlink Feed Registry over
// JSON-RPC. It implements domain.PriceFeed for the oracle resolver.
package chainlink

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// registryABI is the subset of FeedRegistryInterface the feed calls.
const registryABI = `[
  {"type":"function","name":"latestRoundData","stateMutability":"view",
   "inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"}],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]}
]`

// Caller executes read-only contract calls. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config holds the feed parameters.
type Config struct {
	RPCURL            string
	Registry          common.Address
	RequestsPerSecond float64
	Burst             int
}

// Feed implements domain.PriceFeed against a Feed Registry.
type Feed struct {
	caller   Caller
	registry common.Address
	abi      abi.ABI
	limiter  *rate.Limiter
	closer   func()
}

// Dial connects to cfg.RPCURL and returns a Feed. Call Close when done.
func Dial(ctx context.Context, cfg Config) (*Feed, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chainlink: dial %s: %w", cfg.RPCURL, err)
	}
	f, err := New(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	f.closer = client.Close
	return f, nil
}

// New wraps an existing caller. A non-positive rate disables pacing.
func New(caller Caller, cfg Config) (*Feed, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("chainlink: parse abi: %w", err)
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Feed{
		caller:   caller,
		registry: cfg.Registry,
		abi:      parsed,
		limiter:  rate.NewLimiter(limit, burst),
	}, nil
}

// Close releases the RPC connection when the feed owns it.
func (f *Feed) Close() {
	if f.closer != nil {
		f.closer()
	}
}

// LatestPrice returns the latest answer and its update time for base/quote.
// Non-positive answers are rejected.
func (f *Feed) LatestPrice(ctx context.Context, base, quote common.Address) (domain.PriceReading, error) {
	out, err := f.call(ctx, "latestRoundData", base, quote)
	if err != nil {
		return domain.PriceReading{}, err
	}
	if len(out) != 5 {
		return domain.PriceReading{}, fmt.Errorf("chainlink: latestRoundData: %d outputs", len(out))
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return domain.PriceReading{}, fmt.Errorf("chainlink: latestRoundData: answer is %T", out[1])
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok {
		return domain.PriceReading{}, fmt.Errorf("chainlink: latestRoundData: updatedAt is %T", out[3])
	}
	if answer.Sign() <= 0 {
		return domain.PriceReading{}, fmt.Errorf("chainlink: %s/%s: non-positive answer %s", base.Hex(), quote.Hex(), answer)
	}
	return domain.PriceReading{
		Price:     answer,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

func (f *Feed) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("chainlink: %s: rate limit: %w", method, err)
	}
	data, err := f.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chainlink: pack %s: %w", method, err)
	}
	raw, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.registry, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainlink: call %s: %w", method, err)
	}
	out, err := f.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chainlink: unpack %s: %w", method, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PriceFeed = (*Feed)(nil)
