package sqlite

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/conviction/internal/domain"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func event(seq, marketID uint64, typ domain.EventType, ts time.Time) domain.Event {
	return domain.Event{
		ID:        fmt.Sprintf("00000000-0000-0000-0000-%012d", seq),
		Seq:       seq,
		Type:      typ,
		MarketID:  marketID,
		Account:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Outcome:   domain.OutcomeA,
		Amount:    big.NewInt(int64(seq) * 1000),
		Timestamp: ts,
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, []domain.Event{
		event(1, 1, domain.EventMarketCreated, base),
		event(2, 1, domain.EventStakeRecorded, base.Add(time.Minute)),
		event(3, 2, domain.EventMarketCreated, base.Add(2*time.Minute)),
	}))
	// Redelivery of an already stored seq is ignored.
	require.NoError(t, s.Append(ctx, []domain.Event{event(3, 2, domain.EventMarketCreated, base)}))

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	all, err := s.ListSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.EventStakeRecorded, all[1].Type)
	assert.Equal(t, "2000", all[1].Amount.String())
	assert.Equal(t, domain.OutcomeA, all[1].Outcome)

	page, err := s.ListSince(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(2), page[0].Seq)

	m1, err := s.ListByMarket(ctx, 1, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, m1, 2)

	since := base.Add(30 * time.Second)
	m1Late, err := s.ListByMarket(ctx, 1, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	require.Len(t, m1Late, 1)
	assert.Equal(t, uint64(2), m1Late[0].Seq)
}

func TestLastSeqEmpty(t *testing.T) {
	s := openTest(t)
	last, err := s.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, s.Save(ctx, domain.State{
			Version:      domain.StateVersion,
			LastSeq:      seq * 10,
			NextMarketID: seq + 1,
			PoolBalance:  big.NewInt(int64(seq)),
			TakenAt:      time.Unix(int64(seq), 0).UTC(),
		}))
	}

	st, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), st.LastSeq)
	assert.Equal(t, uint64(4), st.NextMarketID)
	assert.Equal(t, "3", st.PoolBalance.String())

	require.NoError(t, s.Prune(ctx, 1, 0))
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM engine_snapshots`).Scan(&n))
	assert.Equal(t, 1, n)
}
