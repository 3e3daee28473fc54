package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The full event
// is kept as JSONB; the indexed columns exist for filtering only.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts events in one batch. Re-delivered events (same seq) are
// skipped so a replayed sink call is harmless.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO engine_events (
			seq, id, type, market_id, token_id, account, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (seq) DO NOTHING`

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %d: %w", ev.Seq, err)
		}
		batch.Queue(query,
			int64(ev.Seq), ev.ID, string(ev.Type),
			int64(ev.MarketID), int64(ev.TokenID), accountColumn(ev),
			payload, ev.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append event batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListSince returns up to limit events with seq > afterSeq in seq order.
// A non-positive limit returns everything.
func (s *EventStore) ListSince(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	query := `SELECT payload FROM engine_events WHERE seq > $1 ORDER BY seq ASC`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events since %d: %w", afterSeq, err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// ListByMarket returns the events of one market, oldest first, with optional
// time filtering and pagination.
func (s *EventStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT payload FROM engine_events WHERE market_id = $1`
	args := []any{int64(marketID)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for market %d: %w", marketID, err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// LastSeq returns the highest stored seq, or zero for an empty log.
func (s *EventStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq *int64
	if err := s.pool.QueryRow(ctx, "SELECT MAX(seq) FROM engine_events").Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: last event seq: %w", err)
	}
	if seq == nil {
		return 0, nil
	}
	return uint64(*seq), nil
}

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate events: %w", err)
	}
	return events, nil
}

func accountColumn(ev domain.Event) string {
	if ev.Account == (common.Address{}) {
		return ""
	}
	return ev.Account.Hex()
}
