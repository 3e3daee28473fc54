package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/conviction/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, p string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[p] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, p string, data io.Reader, _ int64) error {
	return m.Put(ctx, p, data, "")
}

func (m *memBlobs) Get(_ context.Context, p string) (io.ReadCloser, error) {
	b, ok := m.objects[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m.objects[p]
	return ok, nil
}

func (m *memBlobs) keys() []string {
	var ks []string
	for k := range m.objects {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

type memEvents []domain.Event

func (e memEvents) ListSince(_ context.Context, after uint64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range e {
		if ev.Seq > after {
			out = append(out, ev)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memSnapshots struct{ st *domain.State }

func (s *memSnapshots) Save(_ context.Context, st domain.State) error { s.st = &st; return nil }

func (s *memSnapshots) Latest(context.Context) (domain.State, error) {
	if s.st == nil {
		return domain.State{}, domain.ErrNotFound
	}
	return *s.st, nil
}

func seqEvents(n int) memEvents {
	out := make(memEvents, n)
	for i := range out {
		out[i] = domain.Event{Seq: uint64(i + 1), Type: domain.EventStakeRecorded, MarketID: 1}
	}
	return out
}

func TestArchiveEventsBatches(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, seqEvents(5), &memSnapshots{}, "/conviction/")
	a.batch = 2

	last, n, err := a.ArchiveEvents(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, []string{
		"conviction/events/000000000001-000000000002.jsonl",
		"conviction/events/000000000003-000000000004.jsonl",
		"conviction/events/000000000005-000000000005.jsonl",
	}, blobs.keys())

	lines := strings.Split(strings.TrimSpace(string(blobs.objects[blobs.keys()[0]])), "\n")
	assert.Len(t, lines, 2)

	high, err := a.ArchivedSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), high)

	// Nothing new.
	last, n, err = a.ArchiveEvents(ctx, high)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
	assert.Zero(t, n)
}

func TestArchiveSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	snaps := &memSnapshots{}
	a := NewArchiver(blobs, blobs, memEvents{}, snaps, "")

	_, err := a.ArchiveSnapshot(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = a.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, seq := range []uint64{9, 42} {
		require.NoError(t, snaps.Save(ctx, domain.State{
			Version:     domain.StateVersion,
			LastSeq:     seq,
			TakenAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			PoolBalance: big.NewInt(int64(seq)),
		}))
		_, err := a.ArchiveSnapshot(ctx)
		require.NoError(t, err)
	}
	assert.Contains(t, blobs.keys(), "snapshots/2026/03/01/000000000042.json")

	st, err := a.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), st.LastSeq)
	assert.Equal(t, "42", st.PoolBalance.String())
}

func TestParseEventsKey(t *testing.T) {
	first, last, ok := parseEventsKey("x/events/000000000007-000000000010.jsonl")
	require.True(t, ok)
	assert.Equal(t, uint64(7), first)
	assert.Equal(t, uint64(10), last)

	_, _, ok = parseEventsKey("x/events/readme.txt")
	assert.False(t, ok)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio.internal", normaliseEndpoint("minio.internal", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}

func TestArchiveSnapshotSkipsExistingKey(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	snaps := &memSnapshots{}
	a := NewArchiver(blobs, blobs, memEvents{}, snaps, "cold")

	require.NoError(t, snaps.Save(ctx, domain.State{
		Version: domain.StateVersion,
		LastSeq: 3,
		TakenAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}))
	key, err := a.ArchiveSnapshot(ctx)
	require.NoError(t, err)

	blobs.objects[key] = []byte("sentinel")
	again, err := a.ArchiveSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.Equal(t, "sentinel", string(blobs.objects[key]), "existing object is left alone")
}

type statusErr int

func (e statusErr) Error() string       { return "status" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("head: %w", &types.NotFound{})))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", statusErr(404))))
	assert.False(t, isNotFound(statusErr(403)))
	assert.False(t, isNotFound(errors.New("timeout")))
}
