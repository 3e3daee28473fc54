package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/alanyoungcy/conviction/internal/events"
	"github.com/alanyoungcy/conviction/internal/ledger"
	"github.com/alanyoungcy/conviction/internal/market"
	"github.com/alanyoungcy/conviction/internal/txn"
	"github.com/alanyoungcy/conviction/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin     = common.HexToAddress("0xad")
	hook      = common.HexToAddress("0x400c")
	self      = common.HexToAddress("0x5e77")
	resolver  = common.HexToAddress("0x0eac1e")
	forwarder = common.HexToAddress("0xf0")
	treasury  = common.HexToAddress("0x7e")
	alice     = common.HexToAddress("0xa11ce")
	bob       = common.HexToAddress("0xb0b")
	carol     = common.HexToAddress("0xca401")
	start     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	now    time.Time
	exec   *txn.Executor
	reg    *market.Registry
	ledger *ledger.Ledger
	vault  *vault.Memory
	settle *Settlement
	rec    *events.Recorder
	market uint64
}

func newFixture(t *testing.T, feeBps uint64) *fixture {
	t.Helper()
	f := &fixture{now: start}
	clock := func() time.Time { return f.now }
	bus := events.NewBus(clock, nil)
	f.exec = txn.NewExecutor(txn.WithCommitHook(bus.CommitHook))
	f.rec = &events.Recorder{}
	bus.Subscribe("test", f.rec)

	f.reg = market.NewRegistry(f.exec, bus, admin, domain.ProtocolConfig{
		FeeBps:          feeBps,
		Treasury:        treasury,
		GlobalMinStake:  big.NewInt(1),
		DefaultMinStake: big.NewInt(0),
		MaxStaleness:    time.Hour,
	}, clock)
	f.ledger = ledger.New(f.exec, bus, self, clock)
	f.vault = vault.NewMemory()
	f.settle = New(f.exec, bus, f.reg, f.ledger, f.vault, Roles{
		Self:      self,
		StakeHook: hook,
		Resolver:  resolver,
		Forwarder: forwarder,
	}, clock, nil)

	id, err := f.reg.CreateMarket(context.Background(), admin, market.NewMarket{
		Name: "ETH >= 4000", AssetSymbol: "ETH", ExpiresAt: start.Add(time.Hour),
	})
	require.NoError(t, err)
	f.market = id
	return f
}

func (f *fixture) stake(t *testing.T, user common.Address, outcome domain.Outcome, amount int64) domain.StakeReceipt {
	t.Helper()
	r, err := f.settle.RecordStake(context.Background(), hook, user, f.market, outcome, big.NewInt(amount), big.NewInt(amount))
	require.NoError(t, err)
	return r
}

func (f *fixture) claim(ctx context.Context, tokenID uint64) (*big.Int, error) {
	pos, err := f.ledger.Details(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return f.settle.Claim(ctx, forwarder, pos.MarketID, tokenID, pos.Outcome, pos.NetStake, pos.Owner)
}

func TestRecordStakeEffects(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	r := f.stake(t, alice, domain.OutcomeA, 1000)
	assert.Equal(t, int64(10), r.Fee.Int64())
	assert.Equal(t, int64(990), r.NetStake.Int64())
	assert.Equal(t, uint64(1), r.TokenID)

	m, err := f.reg.Details(ctx, f.market)
	require.NoError(t, err)
	assert.Equal(t, int64(990), m.TotalStakeA.Int64())
	assert.Equal(t, int64(10), f.vault.Paid(treasury).Int64())
	assert.Equal(t, int64(990), f.vault.Balance().Int64())
	assert.True(t, f.settle.HasStaked(ctx, f.market, alice))

	pos, err := f.ledger.Details(ctx, r.TokenID)
	require.NoError(t, err)
	assert.Equal(t, alice, pos.Owner)
	assert.Equal(t, domain.OutcomeA, pos.Outcome)

	staked := f.rec.OfType(domain.EventStakeRecorded)
	require.Len(t, staked, 1)
	assert.Equal(t, int64(10), staked[0].Fee.Int64())
}

func TestRecordStakePreconditions(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.stake(t, carol, domain.OutcomeB, 5)

	one := big.NewInt(1)
	tests := []struct {
		name     string
		caller   common.Address
		user     common.Address
		marketID uint64
		outcome  domain.Outcome
		declared *big.Int
		value    *big.Int
		wantErr  error
	}{
		{"untrusted hook", alice, alice, f.market, domain.OutcomeA, one, one, domain.ErrUnauthorized},
		{"zero user", hook, common.Address{}, f.market, domain.OutcomeA, one, one, domain.ErrZeroAddress},
		{"zero stake", hook, alice, f.market, domain.OutcomeA, big.NewInt(0), big.NewInt(0), domain.ErrAmountCannotBeZero},
		{"bad outcome", hook, alice, f.market, domain.Outcome(3), one, one, domain.ErrInvalidOutcome},
		{"missing market", hook, alice, 77, domain.OutcomeA, one, one, domain.ErrMarketNotFound},
		{"already staked", hook, carol, f.market, domain.OutcomeA, one, one, domain.ErrAlreadyStaked},
		{"value mismatch", hook, alice, f.market, domain.OutcomeA, big.NewInt(2), one, domain.ErrIncorrectValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.settle.RecordStake(ctx, tt.caller, tt.user, tt.marketID, tt.outcome, tt.declared, tt.value)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 1, f.ledger.TotalSupply(ctx))
}

func TestRecordStakeAfterExpiry(t *testing.T) {
	f := newFixture(t, 0)
	f.now = start.Add(time.Hour)
	_, err := f.settle.RecordStake(context.Background(), hook, alice, f.market, domain.OutcomeA, big.NewInt(5), big.NewInt(5))
	assert.ErrorIs(t, err, domain.ErrMarketExpired)
}

func TestRecordStakeFullFeeRejected(t *testing.T) {
	f := newFixture(t, domain.MaxFeeBps)
	_, err := f.settle.RecordStake(context.Background(), hook, alice, f.market, domain.OutcomeA, big.NewInt(5), big.NewInt(5))
	assert.ErrorIs(t, err, domain.ErrAmountCannotBeZero)
	assert.Zero(t, f.vault.Balance().Sign())
}

func TestRecordStakeBelowMinimumMintsNothing(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.reg.SetMarketMinStake(ctx, admin, f.market, big.NewInt(100)))

	_, err := f.settle.RecordStake(ctx, hook, alice, f.market, domain.OutcomeA, big.NewInt(99), big.NewInt(99))
	assert.ErrorIs(t, err, domain.ErrStakeBelowMinimum)
	assert.Zero(t, f.ledger.TotalSupply(ctx))
	assert.False(t, f.settle.HasStaked(ctx, f.market, alice))
	assert.Empty(t, f.rec.OfType(domain.EventPositionMinted))
}

func TestFailedTreasuryTransferAbortsStake(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()
	f.vault.SetReceiver(treasury, func(context.Context, *big.Int) error { return errors.New("treasury reverted") })

	_, err := f.settle.RecordStake(ctx, hook, alice, f.market, domain.OutcomeA, big.NewInt(100), big.NewInt(100))
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	m, err := f.reg.Details(ctx, f.market)
	require.NoError(t, err)
	assert.Zero(t, m.PrizePool().Sign())
	assert.Zero(t, f.vault.Balance().Sign())
	assert.False(t, f.settle.HasStaked(ctx, f.market, alice))
	assert.Zero(t, f.ledger.TotalSupply(ctx))
}

func TestTreasuryCallbackCannotStakeTwice(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	var innerErr error
	f.vault.SetReceiver(treasury, func(ctx context.Context, _ *big.Int) error {
		_, innerErr = f.settle.RecordStake(ctx, hook, alice, f.market, domain.OutcomeB, big.NewInt(1000), big.NewInt(1000))
		return nil
	})

	r := f.stake(t, alice, domain.OutcomeA, 1000)
	require.ErrorIs(t, innerErr, domain.ErrAlreadyStaked)

	assert.Equal(t, []uint64{r.TokenID}, f.ledger.TokensOf(ctx, alice))
	m, err := f.reg.Details(ctx, f.market)
	require.NoError(t, err)
	assert.Equal(t, int64(990), m.TotalStakeA.Int64())
	assert.Zero(t, m.TotalStakeB.Sign())
	assert.Equal(t, int64(10), f.vault.Paid(treasury).Int64())
	assert.Len(t, f.rec.OfType(domain.EventStakeRecorded), 1)
}

func TestResolveOnceOnly(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.stake(t, alice, domain.OutcomeA, 3)
	f.stake(t, bob, domain.OutcomeB, 1)

	_, err := f.settle.Resolve(ctx, alice, f.market, domain.OutcomeB, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	res, err := f.settle.Resolve(ctx, resolver, f.market, domain.OutcomeB, big.NewInt(3999))
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.PrizePool.Int64())

	_, err = f.settle.Resolve(ctx, resolver, f.market, domain.OutcomeA, big.NewInt(5000))
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	m, err := f.reg.Details(ctx, f.market)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeB, m.WinningOutcome)
	assert.Equal(t, int64(3999), m.ResolvedPrice.Int64())
}

func TestClaimPaysAndBurns(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.stake(t, alice, domain.OutcomeA, 3)
	b := f.stake(t, bob, domain.OutcomeB, 1)

	_, err := f.claim(ctx, b.TokenID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)

	_, err = f.settle.Resolve(ctx, resolver, f.market, domain.OutcomeB, big.NewInt(1))
	require.NoError(t, err)

	reward, err := f.claim(ctx, b.TokenID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), reward.Int64())
	assert.Equal(t, int64(4), f.vault.Paid(bob).Int64())
	assert.Zero(t, f.vault.Balance().Sign())

	_, err = f.ledger.Details(ctx, b.TokenID)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	_, err = f.settle.Claim(ctx, forwarder, f.market, b.TokenID, domain.OutcomeB, big.NewInt(1), bob)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound, "second claim must fail at burn")
}

func TestClaimLosingPositionIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	a := f.stake(t, alice, domain.OutcomeA, 3)
	f.stake(t, bob, domain.OutcomeB, 1)
	_, err := f.settle.Resolve(ctx, resolver, f.market, domain.OutcomeB, big.NewInt(1))
	require.NoError(t, err)

	_, err = f.claim(ctx, a.TokenID)
	assert.ErrorIs(t, err, domain.ErrNotWinningNFT)
	_, err = f.ledger.Details(ctx, a.TokenID)
	assert.NoError(t, err, "losing position stays")
}

func TestClaimRequiresForwarder(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.settle.Claim(context.Background(), alice, f.market, 1, domain.OutcomeA, big.NewInt(1), alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFailedPaymentKeepsPositionClaimable(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.stake(t, alice, domain.OutcomeA, 3)
	b := f.stake(t, bob, domain.OutcomeB, 1)
	_, err := f.settle.Resolve(ctx, resolver, f.market, domain.OutcomeB, big.NewInt(1))
	require.NoError(t, err)

	f.vault.SetReceiver(bob, func(context.Context, *big.Int) error { return errors.New("recipient reverted") })
	_, err = f.claim(ctx, b.TokenID)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	pos, err := f.ledger.Details(ctx, b.TokenID)
	require.NoError(t, err, "burn rolled back")
	assert.Equal(t, bob, pos.Owner)
	assert.Equal(t, int64(4), f.vault.Balance().Int64())
	assert.Empty(t, f.rec.OfType(domain.EventPositionBurned))

	f.vault.SetReceiver(bob, nil)
	reward, err := f.claim(ctx, b.TokenID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), reward.Int64())
}
