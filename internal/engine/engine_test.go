package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/events"
	"github.com/alanyoungcy/conviction/internal/market"
	"github.com/alanyoungcy/conviction/internal/oracle"
	"github.com/alanyoungcy/conviction/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin    = common.HexToAddress("0xad")
	hook     = common.HexToAddress("0x400c")
	treasury = common.HexToAddress("0x7e")
	keeper   = common.HexToAddress("0x6ee9")
	weth     = common.HexToAddress("0xeeee")
	usd      = common.HexToAddress("0x0348")
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
	carol    = common.HexToAddress("0xca401")
	dave     = common.HexToAddress("0xda7e")
	start    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	now    time.Time
	engine *Engine
	feed   *oracle.StaticFeed
	vault  *vault.Memory
	rec    *events.Recorder
}

func newHarness(t *testing.T, feeBps uint64) *harness {
	t.Helper()
	h := &harness{now: start, feed: oracle.NewStaticFeed(), vault: vault.NewMemory(), rec: &events.Recorder{}}
	e, err := New(Roles{Admin: admin, StakeHook: hook}, domain.ProtocolConfig{
		FeeBps:          feeBps,
		Treasury:        treasury,
		GlobalMinStake:  big.NewInt(1),
		DefaultMinStake: big.NewInt(0),
		MaxStaleness:    15 * time.Minute,
	}, WithClock(func() time.Time { return h.now }), WithPriceFeed(h.feed), WithVault(h.vault))
	require.NoError(t, err)
	e.Subscribe("test", h.rec)
	h.engine = e
	return h
}

func (h *harness) createMarket(t *testing.T, threshold int64) uint64 {
	t.Helper()
	id, err := h.engine.CreateMarket(context.Background(), admin, market.NewMarket{
		Name: "ETH >= threshold", AssetSymbol: "ETH", ExpiresAt: h.now.Add(time.Hour),
	}, &domain.OracleRef{Base: weth, Quote: usd, Threshold: big.NewInt(threshold)})
	require.NoError(t, err)
	return id
}

func (h *harness) stake(t *testing.T, user common.Address, id uint64, o domain.Outcome, amount int64) domain.StakeReceipt {
	t.Helper()
	r, err := h.engine.RecordStake(context.Background(), hook, user, id, o, big.NewInt(amount), big.NewInt(amount))
	require.NoError(t, err)
	return r
}

func (h *harness) expireAndResolve(t *testing.T, id uint64, price int64) domain.Resolution {
	t.Helper()
	h.now = h.now.Add(2 * time.Hour)
	h.feed.Set(weth, usd, big.NewInt(price), h.now.Add(-time.Minute))
	res, err := h.engine.ResolveMarket(context.Background(), keeper, id)
	require.NoError(t, err)
	return res
}

func TestNewValidatesRoles(t *testing.T) {
	_, err := New(Roles{StakeHook: hook}, domain.ProtocolConfig{}, WithPriceFeed(oracle.NewStaticFeed()))
	assert.ErrorIs(t, err, domain.ErrZeroAddress)
	_, err = New(Roles{Admin: admin, StakeHook: hook}, domain.ProtocolConfig{})
	assert.Error(t, err)
}

func TestDerivedIdentitiesAreDistinct(t *testing.T) {
	ids := map[common.Address]bool{SettlementIdentity: true, ResolverIdentity: true, ForwarderIdentity: true}
	assert.Len(t, ids, 3)
	assert.NotEqual(t, common.Address{}, SettlementIdentity)
}

// Scenario A: 3 net on A, 1 net on B, B wins, the single winner takes 4.
func TestScenarioSingleWinnerTakesPool(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createMarket(t, 4000)
	h.stake(t, alice, id, domain.OutcomeA, 3)
	b := h.stake(t, bob, id, domain.OutcomeB, 1)

	res := h.expireAndResolve(t, id, 3999)
	assert.Equal(t, domain.OutcomeB, res.WinningOutcome)
	assert.Equal(t, int64(4), res.PrizePool.Int64())

	receipt, err := h.engine.ClaimReward(ctx, bob, b.TokenID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), receipt.Reward.Int64())
	assert.Zero(t, h.vault.Balance().Sign(), "zero dust")
}

// Scenario B: two 1-unit winners share a 3-unit losing pool, one unit of
// dust remains.
func TestScenarioTruncationDust(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createMarket(t, 4000)
	h.stake(t, alice, id, domain.OutcomeA, 3)
	b := h.stake(t, bob, id, domain.OutcomeB, 1)
	c := h.stake(t, carol, id, domain.OutcomeB, 1)
	h.expireAndResolve(t, id, 100)

	total := new(big.Int)
	for _, tok := range []uint64{b.TokenID, c.TokenID} {
		r, err := h.engine.ClaimReward(ctx, dave, tok)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Reward.Int64())
		total.Add(total, r.Reward)
	}
	assert.Equal(t, int64(4), total.Int64())
	assert.Equal(t, int64(1), h.vault.Balance().Int64())
}

// Scenario C: a stake below the effective minimum is rejected and mints
// nothing.
func TestScenarioStakeBelowMinimum(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	require.NoError(t, h.engine.SetGlobalMinStake(ctx, admin, big.NewInt(10)))
	id := h.createMarket(t, 4000)

	_, err := h.engine.RecordStake(ctx, hook, alice, id, domain.OutcomeA, big.NewInt(9), big.NewInt(9))
	require.ErrorIs(t, err, domain.ErrStakeBelowMinimum)
	assert.Zero(t, h.engine.TotalPositions(ctx))
	assert.Empty(t, h.rec.OfType(domain.EventStakeRecorded))
}

// Scenario D: a stale price rejects resolution and leaves the market open
// to a later attempt.
func TestScenarioStalePrice(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createMarket(t, 4000)
	h.now = h.now.Add(2 * time.Hour)
	h.feed.Set(weth, usd, big.NewInt(5000), h.now.Add(-16*time.Minute))

	_, err := h.engine.ResolveMarket(ctx, keeper, id)
	require.ErrorIs(t, err, domain.ErrPriceIsStale)
	assert.Equal(t, domain.MarketStateExpired, h.engine.MarketState(ctx, id))

	h.feed.Set(weth, usd, big.NewInt(5000), h.now)
	res, err := h.engine.ResolveMarket(ctx, keeper, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeA, res.WinningOutcome)
}

func TestSingleStakePerUser(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createMarket(t, 4000)
	h.stake(t, alice, id, domain.OutcomeA, 5)

	for _, o := range []domain.Outcome{domain.OutcomeA, domain.OutcomeB} {
		_, err := h.engine.RecordStake(ctx, hook, alice, id, o, big.NewInt(5), big.NewInt(5))
		assert.ErrorIs(t, err, domain.ErrAlreadyStaked)
	}
	// transferring the position away does not reset the flag
	require.NoError(t, h.engine.TransferPosition(ctx, alice, alice, bob, 1))
	_, err := h.engine.RecordStake(ctx, hook, alice, id, domain.OutcomeA, big.NewInt(5), big.NewInt(5))
	assert.ErrorIs(t, err, domain.ErrAlreadyStaked)
}

func TestCreateMarketWithBadOracleIsAtomic(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.engine.CreateMarket(ctx, admin, market.NewMarket{
		Name: "m", AssetSymbol: "ETH", ExpiresAt: start.Add(time.Hour),
	}, &domain.OracleRef{Base: common.Address{}, Quote: usd, Threshold: big.NewInt(1)})
	require.ErrorIs(t, err, domain.ErrZeroAddress)
	assert.Zero(t, h.engine.MarketCount(ctx))
	assert.Empty(t, h.rec.Events())
}

func TestFeesGoToTreasury(t *testing.T) {
	h := newHarness(t, 250)
	id := h.createMarket(t, 4000)
	r := h.stake(t, alice, id, domain.OutcomeA, 1000)
	assert.Equal(t, int64(25), r.Fee.Int64())
	assert.Equal(t, int64(25), h.vault.Paid(treasury).Int64())
}

func TestSessionDrivesUpkeep(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createMarket(t, 4000)
	s := h.engine.As(keeper)

	ids, err := s.CheckExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	h.now = h.now.Add(time.Hour)
	ids, err = s.CheckExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, ids)

	marked, err := s.PerformUpkeep(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, marked)
	markers := h.rec.OfType(domain.EventMarketExpired)
	require.Len(t, markers, 1)
	assert.Equal(t, keeper, markers[0].Account)

	h.feed.Set(weth, usd, big.NewInt(1), h.now)
	_, err = s.ResolveMarket(ctx, id)
	require.NoError(t, err)
}

func TestSnapshotRestore(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()
	id := h.createMarket(t, 4000)
	h.stake(t, alice, id, domain.OutcomeA, 300)
	b := h.stake(t, bob, id, domain.OutcomeB, 100)
	require.NoError(t, h.engine.SetClaimsPaused(ctx, admin, true))

	st := h.engine.Snapshot(ctx)
	assert.Equal(t, domain.StateVersion, st.Version)
	assert.NotZero(t, st.LastSeq)

	g := newHarness(t, 0)
	require.NoError(t, g.engine.Restore(ctx, st))

	m, err := g.engine.Market(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(297), m.TotalStakeA.Int64())
	assert.Equal(t, uint64(100), g.engine.Config(ctx).FeeBps)
	assert.True(t, g.engine.ClaimsPaused(ctx))
	assert.True(t, g.engine.HasStaked(ctx, id, bob))
	assert.Equal(t, h.vault.Balance().String(), g.vault.Balance().String())

	reg, err := g.engine.OracleRegistration(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), reg.Oracle.Threshold.Int64())

	require.NoError(t, g.engine.SetClaimsPaused(ctx, admin, false))
	g.expireAndResolve(t, id, 1)
	r, err := g.engine.ClaimReward(ctx, bob, b.TokenID)
	require.NoError(t, err)
	assert.Equal(t, int64(99+297), r.Reward.Int64())

	evs := g.rec.Events()
	require.NotEmpty(t, evs)
	assert.Equal(t, st.LastSeq+1, evs[0].Seq, "sequence continues after restore")

	st.Version = 99
	assert.Error(t, g.engine.Restore(ctx, st))
}

func TestEventsOnlyForCommittedUnits(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	id := h.createMarket(t, 4000)
	h.rec.Reset()

	h.vault.SetReceiver(treasury, func(context.Context, *big.Int) error { return errors.New("unreachable") })
	require.NoError(t, h.engine.SetFeeConfig(ctx, admin, treasury, 100))
	h.rec.Reset()

	_, err := h.engine.RecordStake(ctx, hook, alice, id, domain.OutcomeA, big.NewInt(100), big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Empty(t, h.rec.Events())
}
