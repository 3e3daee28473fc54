package claim

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
	"github.com/alanyoungcy/conviction/internal/settlement"
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
	alice     = common.HexToAddress("0xa11ce")
	bob       = common.HexToAddress("0xb0b")
	carol     = common.HexToAddress("0xca401")
	start     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	ledger *ledger.Ledger
	vault  *vault.Memory
	settle *settlement.Settlement
	fwd    *Forwarder
	rec    *events.Recorder
	market uint64
}

// newResolvedMarket stakes alice 3 on A, bob 1 and carol 1 on B, and resolves
// the market to B.
func newResolvedMarket(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := start
	clock := func() time.Time { return now }
	bus := events.NewBus(clock, nil)
	exec := txn.NewExecutor(txn.WithCommitHook(bus.CommitHook))
	f := &fixture{rec: &events.Recorder{}}
	bus.Subscribe("test", f.rec)

	reg := market.NewRegistry(exec, bus, admin, domain.ProtocolConfig{
		GlobalMinStake: big.NewInt(1),
		MaxStaleness:   time.Hour,
		Treasury:       common.HexToAddress("0x7e"),
	}, clock)
	f.ledger = ledger.New(exec, bus, self, clock)
	f.vault = vault.NewMemory()
	f.settle = settlement.New(exec, bus, reg, f.ledger, f.vault, settlement.Roles{
		Self: self, StakeHook: hook, Resolver: resolver, Forwarder: forwarder,
	}, clock, nil)
	f.fwd = New(exec, bus, f.ledger, f.settle, admin, forwarder, nil)

	id, err := reg.CreateMarket(ctx, admin, market.NewMarket{Name: "m", AssetSymbol: "ETH", ExpiresAt: start.Add(time.Hour)})
	require.NoError(t, err)
	f.market = id
	for _, s := range []struct {
		user    common.Address
		outcome domain.Outcome
		amount  int64
	}{{alice, domain.OutcomeA, 3}, {bob, domain.OutcomeB, 1}, {carol, domain.OutcomeB, 1}} {
		_, err := f.settle.RecordStake(ctx, hook, s.user, id, s.outcome, big.NewInt(s.amount), big.NewInt(s.amount))
		require.NoError(t, err)
	}
	_, err = f.settle.Resolve(ctx, resolver, id, domain.OutcomeB, big.NewInt(1))
	require.NoError(t, err)
	return f
}

func TestClaimRewardPaysHolder(t *testing.T) {
	f := newResolvedMarket(t)
	ctx := context.Background()

	// bob sold his position to alice before claiming
	require.NoError(t, f.ledger.Transfer(ctx, bob, bob, alice, 2))

	receipt, err := f.fwd.ClaimReward(ctx, carol, 2)
	require.NoError(t, err)
	assert.Equal(t, alice, receipt.Owner)
	assert.Equal(t, int64(2), receipt.Reward.Int64())
	assert.Equal(t, int64(2), f.vault.Paid(alice).Int64())

	_, err = f.fwd.ClaimReward(ctx, carol, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.vault.Balance().Int64(), "one unit of dust stays in the pool")
}

func TestClaimRewardRejectsZeroToken(t *testing.T) {
	f := newResolvedMarket(t)
	_, err := f.fwd.ClaimReward(context.Background(), bob, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTokenID)
	assert.NotErrorIs(t, err, domain.ErrClaimFailed)
}

func TestClaimRewardWrapsSettlementErrors(t *testing.T) {
	f := newResolvedMarket(t)
	ctx := context.Background()

	_, err := f.fwd.ClaimReward(ctx, alice, 1)
	require.ErrorIs(t, err, domain.ErrClaimFailed)
	assert.ErrorIs(t, err, domain.ErrNotWinningNFT)

	var ce *ClaimError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(1), ce.TokenID)

	_, err = f.fwd.ClaimReward(ctx, alice, 42)
	assert.ErrorIs(t, err, domain.ErrClaimFailed)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = f.ledger.Details(ctx, 1)
	assert.NoError(t, err)
}

func TestPauseBlocksClaims(t *testing.T) {
	f := newResolvedMarket(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.fwd.SetPaused(ctx, bob, true), domain.ErrUnauthorized)
	require.NoError(t, f.fwd.SetPaused(ctx, admin, true))
	assert.True(t, f.fwd.Paused(ctx))

	_, err := f.fwd.ClaimReward(ctx, bob, 2)
	assert.ErrorIs(t, err, domain.ErrClaimsPaused)

	require.NoError(t, f.fwd.SetPaused(ctx, admin, false))
	_, err = f.fwd.ClaimReward(ctx, bob, 2)
	assert.NoError(t, err)
	assert.Len(t, f.rec.OfType(domain.EventClaimsPaused), 2)
}

func TestReentrantClaimIsRejected(t *testing.T) {
	f := newResolvedMarket(t)
	ctx := context.Background()

	var inner error
	f.vault.SetReceiver(bob, func(ctx context.Context, _ *big.Int) error {
		_, inner = f.fwd.ClaimReward(ctx, bob, 2)
		return nil
	})

	receipt, err := f.fwd.ClaimReward(ctx, bob, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), receipt.Reward.Int64())
	assert.ErrorIs(t, inner, domain.ErrReentrantCall)
	assert.Equal(t, int64(2), f.vault.Paid(bob).Int64(), "paid exactly once")
	assert.Len(t, f.rec.OfType(domain.EventRewardClaimed), 1)
}

func TestRecipientFailureKeepsPositionClaimable(t *testing.T) {
	f := newResolvedMarket(t)
	ctx := context.Background()

	f.vault.SetReceiver(bob, func(ctx context.Context, _ *big.Int) error {
		if _, err := f.fwd.ClaimReward(ctx, bob, 2); err != nil {
			return err
		}
		return nil
	})
	_, err := f.fwd.ClaimReward(ctx, bob, 2)
	require.ErrorIs(t, err, domain.ErrClaimFailed)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorIs(t, err, domain.ErrReentrantCall)

	_, err = f.ledger.Details(ctx, 2)
	require.NoError(t, err)

	f.vault.SetReceiver(bob, nil)
	_, err = f.fwd.ClaimReward(ctx, bob, 2)
	require.NoError(t, err)
}

func TestClaimErrorMessage(t *testing.T) {
	err := &ClaimError{TokenID: 7, Cause: errors.New("boom")}
	assert.Equal(t, "claim: token 7: claim failed: boom", err.Error())
	assert.ErrorIs(t, err, domain.ErrClaimFailed)
}
