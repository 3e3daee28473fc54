package client

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/conviction/internal/crypto"
	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/engine"
	"github.com/alanyoungcy/conviction/internal/market"
	"github.com/alanyoungcy/conviction/internal/oracle"
	"github.com/alanyoungcy/conviction/internal/server"
	"github.com/alanyoungcy/conviction/internal/server/handler"
)

// Well-known throwaway keys (hardhat accounts #0 and #2).
const (
	adminKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	keeperKey = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var (
	hook = common.HexToAddress("0x400c")
	weth = common.HexToAddress("0xeeee")
	usd  = common.HexToAddress("0x0348")
)

type remote struct {
	now    time.Time
	feed   *oracle.StaticFeed
	engine *engine.Engine
	admin  *crypto.Signer
	client *Client
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), feed: oracle.NewStaticFeed()}

	var err error
	r.admin, err = crypto.NewSigner(adminKey)
	require.NoError(t, err)
	keeper, err := crypto.NewSigner(keeperKey)
	require.NoError(t, err)

	r.engine, err = engine.New(engine.Roles{Admin: r.admin.Address(), StakeHook: hook}, domain.ProtocolConfig{
		Treasury:        common.HexToAddress("0x7e"),
		GlobalMinStake:  big.NewInt(1),
		DefaultMinStake: big.NewInt(0),
		MaxStaleness:    10 * time.Minute,
	}, engine.WithClock(func() time.Time { return r.now }), engine.WithPriceFeed(r.feed))
	require.NoError(t, err)

	srv := server.NewServer(server.Config{MaxClockSkew: time.Minute}, server.Handlers{
		Health:    handler.NewHealthHandler(r.engine, nil),
		Markets:   handler.NewMarketHandler(r.engine, nil, nil),
		Positions: handler.NewPositionHandler(r.engine, nil),
		Admin:     handler.NewAdminHandler(r.engine, nil),
	}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	r.client = New(ts.URL+"/", keeper)
	return r
}

func (r *remote) createMarket(t *testing.T) uint64 {
	t.Helper()
	id, err := r.engine.CreateMarket(context.Background(), r.admin.Address(), market.NewMarket{
		Name: "ETH above 3000", AssetSymbol: "ETH", ExpiresAt: r.now.Add(time.Hour),
	}, &domain.OracleRef{Base: weth, Quote: usd, Threshold: big.NewInt(3000)})
	require.NoError(t, err)
	return id
}

func TestUpkeepAndResolveOverHTTP(t *testing.T) {
	r := newRemote(t)
	ctx := context.Background()
	id := r.createMarket(t)

	require.NoError(t, r.client.Health(ctx))

	ids, err := r.client.CheckExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	r.now = r.now.Add(2 * time.Hour)
	ids, err = r.client.CheckExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, ids)

	marked, err := r.client.PerformUpkeep(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, marked)

	r.feed.Set(weth, usd, big.NewInt(2500), r.now.Add(-time.Hour))
	_, err = r.client.ResolveMarket(ctx, id)
	require.ErrorIs(t, err, domain.ErrPriceIsStale)

	r.feed.Set(weth, usd, big.NewInt(2500), r.now.Add(-time.Minute))
	res, err := r.client.ResolveMarket(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeB, res.WinningOutcome)

	_, err = r.client.ResolveMarket(ctx, id)
	require.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	m, err := r.client.Market(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Resolved)
}

func TestErrorsMapToSentinels(t *testing.T) {
	r := newRemote(t)
	ctx := context.Background()

	_, err := r.client.Market(ctx, 99)
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = r.client.ResolveMarket(ctx, 99)
	require.ErrorIs(t, err, domain.ErrOracleNotRegistered)

	_, err = r.client.ClaimReward(ctx, 7)
	require.ErrorIs(t, err, domain.ErrClaimFailed)
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestDecodeErrorFallsBackToStatus(t *testing.T) {
	err := decodeError(http.StatusTooManyRequests, []byte("slow down"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	err = decodeError(http.StatusUnauthorized, []byte(`{"error":"invalid signature","code":"unauthorized"}`))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = decodeError(http.StatusBadGateway, []byte("upstream"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Nil(t, apiErr.Unwrap())
	assert.Contains(t, err.Error(), "upstream")
}
