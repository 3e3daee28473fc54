package chainlink

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	registry = common.HexToAddress("0x47Fb2585D2C56Fe188D0E6ec628a38b74fCeeeDf")
	eth      = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
	usd      = common.HexToAddress("0x0000000000000000000000000000000000000348")
)

type fakeCaller struct {
	out   []byte
	err   error
	calls int
	last  ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	f.last = msg
	return f.out, f.err
}

func packRound(t *testing.T, answer int64, updatedAt int64) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	require.NoError(t, err)
	out, err := parsed.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(7), big.NewInt(answer), big.NewInt(updatedAt-5), big.NewInt(updatedAt), big.NewInt(7),
	)
	require.NoError(t, err)
	return out
}

func TestLatestPrice(t *testing.T) {
	caller := &fakeCaller{out: packRound(t, 3_000_00000000, 1_750_000_000)}
	f, err := New(caller, Config{Registry: registry, RequestsPerSecond: 100, Burst: 5})
	require.NoError(t, err)

	r, err := f.LatestPrice(context.Background(), eth, usd)
	require.NoError(t, err)
	assert.Equal(t, "300000000000", r.Price.String())
	assert.Equal(t, int64(1_750_000_000), r.UpdatedAt.Unix())

	require.NotNil(t, caller.last.To)
	assert.Equal(t, registry, *caller.last.To)
	assert.Len(t, caller.last.Data, 4+32+32, "selector plus two address words")
}

func TestLatestPriceRejectsNonPositive(t *testing.T) {
	f, err := New(&fakeCaller{out: packRound(t, 0, 1)}, Config{Registry: registry})
	require.NoError(t, err)
	_, err = f.LatestPrice(context.Background(), eth, usd)
	assert.ErrorContains(t, err, "non-positive answer")
}

func TestLatestPriceCallError(t *testing.T) {
	f, err := New(&fakeCaller{err: errors.New("execution reverted: Feed not found")}, Config{Registry: registry})
	require.NoError(t, err)
	_, err = f.LatestPrice(context.Background(), eth, usd)
	assert.ErrorContains(t, err, "Feed not found")
}

func TestLimiterHonoursContext(t *testing.T) {
	caller := &fakeCaller{out: packRound(t, 1, 1)}
	f, err := New(caller, Config{Registry: registry, RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = f.LatestPrice(context.Background(), eth, usd)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.LatestPrice(ctx, eth, usd)
	assert.ErrorContains(t, err, "rate limit")
	assert.Equal(t, 1, caller.calls)
}
