package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// EventSource is the slice of domain.EventStore the archiver reads.
type EventSource interface {
	ListSince(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error)
}

// defaultBatch bounds the number of events per archive object.
const defaultBatch = 10_000

// ArchiveImpl implements domain.Archiver. Events are written as JSONL
// objects named by their seq range, snapshots as JSON objects partitioned by
// day. Nothing is deleted from the primary store here.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	events    EventSource
	snapshots domain.SnapshotStore
	prefix    string
	batch     int
}

// NewArchiver creates a new ArchiveImpl writing under prefix.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events EventSource,
	snapshots domain.SnapshotStore,
	prefix string,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		events:    events,
		snapshots: snapshots,
		prefix:    strings.Trim(prefix, "/"),
		batch:     defaultBatch,
	}
}

// ArchiveEvents uploads every stored event with seq > afterSeq, one object
// per batch, and returns the highest archived seq and the number of events.
// When nothing is pending it returns afterSeq unchanged.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, afterSeq uint64) (uint64, int64, error) {
	last := afterSeq
	var total int64
	for {
		events, err := a.events.ListSince(ctx, last, a.batch)
		if err != nil {
			return last, total, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		if len(events) == 0 {
			return last, total, nil
		}

		buf, err := marshalJSONL(events)
		if err != nil {
			return last, total, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}

		first, end := events[0].Seq, events[len(events)-1].Seq
		key := a.eventsKey(first, end)
		if err := a.upload(ctx, key, buf, "application/x-ndjson"); err != nil {
			return last, total, fmt.Errorf("s3blob: archive events upload: %w", err)
		}

		last = end
		total += int64(len(events))
		if len(events) < a.batch {
			return last, total, nil
		}
	}
}

// ArchiveSnapshot uploads the latest stored snapshot and returns its key.
// A snapshot already present in the archive is not uploaded again.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context) (string, error) {
	st, err := a.snapshots.Latest(ctx)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot: %w", err)
	}
	key := a.snapshotKey(st.TakenAt, st.LastSeq)
	if ok, err := a.reader.Exists(ctx, key); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot exists: %w", err)
	} else if ok {
		return key, nil
	}

	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}
	if err := a.upload(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}
	return key, nil
}

// ArchivedSeq returns the highest event seq already present in the archive,
// or zero when the archive is empty.
func (a *ArchiveImpl) ArchivedSeq(ctx context.Context) (uint64, error) {
	infos, err := a.reader.List(ctx, a.join("events")+"/")
	if err != nil {
		return 0, fmt.Errorf("s3blob: archived seq: %w", err)
	}
	var high uint64
	for _, info := range infos {
		if _, end, ok := parseEventsKey(info.Path); ok && end > high {
			high = end
		}
	}
	return high, nil
}

// LatestSnapshot reads the newest archived snapshot. It returns
// domain.ErrNotFound when none exists.
func (a *ArchiveImpl) LatestSnapshot(ctx context.Context) (domain.State, error) {
	infos, err := a.reader.List(ctx, a.join("snapshots")+"/")
	if err != nil {
		return domain.State{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}
	if len(infos) == 0 {
		return domain.State{}, fmt.Errorf("s3blob: latest snapshot: %w", domain.ErrNotFound)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	body, err := a.reader.Get(ctx, infos[len(infos)-1].Path)
	if err != nil {
		return domain.State{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}
	defer body.Close()

	var st domain.State
	if err := json.NewDecoder(body).Decode(&st); err != nil && !errors.Is(err, io.EOF) {
		return domain.State{}, fmt.Errorf("s3blob: decode snapshot: %w", err)
	}
	return st, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, key string, data []byte, contentType string) error {
	if int64(len(data)) > minPartSize {
		return a.writer.PutMultipart(ctx, key, bytes.NewReader(data), minPartSize)
	}
	return a.writer.Put(ctx, key, bytes.NewReader(data), contentType)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (a *ArchiveImpl) join(parts ...string) string {
	if a.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{a.prefix}, parts...)...)
}

// eventsKey names an events object by its inclusive seq range. Zero padding
// keeps lexicographic and numeric order equal.
//
//	{prefix}/events/000000000001-000000010000.jsonl
func (a *ArchiveImpl) eventsKey(first, last uint64) string {
	return a.join("events", fmt.Sprintf("%012d-%012d.jsonl", first, last))
}

// snapshotKey partitions snapshots by day.
//
//	{prefix}/snapshots/2026/03/01/000000000042.json
func (a *ArchiveImpl) snapshotKey(takenAt time.Time, seq uint64) string {
	return a.join("snapshots", takenAt.UTC().Format("2006/01/02"), fmt.Sprintf("%012d.json", seq))
}

func parseEventsKey(key string) (first, last uint64, ok bool) {
	name := strings.TrimSuffix(path.Base(key), ".jsonl")
	lo, hi, found := strings.Cut(name, "-")
	if !found {
		return 0, 0, false
	}
	first, err := strconv.ParseUint(lo, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	last, err = strconv.ParseUint(hi, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return first, last, true
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
