// Package sqlite persists the engine event log and snapshots in a single
// SQLite file (pure Go driver, no cgo). It backs single-node deployments and
// tests; Postgres is used everywhere else.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/conviction/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS engine_events (
    seq        INTEGER PRIMARY KEY,
    id         TEXT    NOT NULL UNIQUE,
    type       TEXT    NOT NULL,
    market_id  INTEGER NOT NULL DEFAULT 0,
    token_id   INTEGER NOT NULL DEFAULT 0,
    account    TEXT    NOT NULL DEFAULT '',
    payload    TEXT    NOT NULL,
    created_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    version    INTEGER NOT NULL,
    last_seq   INTEGER NOT NULL,
    state      TEXT    NOT NULL,
    taken_ns   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_market ON engine_events(market_id, seq);
CREATE INDEX IF NOT EXISTS idx_snapshots_seq ON engine_snapshots(last_seq DESC);
`

// Store implements domain.EventStore and domain.SnapshotStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts events in one transaction, ignoring already stored seqs.
func (s *Store) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO engine_events
			(seq, id, type, market_id, token_id, account, payload, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare append: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("sqlite: marshal event %d: %w", ev.Seq, err)
		}
		account := ""
		if ev.Account != (common.Address{}) {
			account = ev.Account.Hex()
		}
		if _, err := stmt.ExecContext(ctx,
			int64(ev.Seq), ev.ID, string(ev.Type),
			int64(ev.MarketID), int64(ev.TokenID), account,
			string(payload), ev.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("sqlite: insert event %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

// ListSince returns up to limit events with seq > afterSeq in seq order.
func (s *Store) ListSince(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM engine_events WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
		int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events since %d: %w", afterSeq, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByMarket returns the events of one market, oldest first.
func (s *Store) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT payload FROM engine_events WHERE market_id = ?`
	args := []any{int64(marketID)}

	if opts.Since != nil {
		query += " AND created_ns >= ?"
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += " AND created_ns <= ?"
		args = append(args, opts.Until.UnixNano())
	}
	query += " ORDER BY seq ASC"

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events for market %d: %w", marketID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LastSeq returns the highest stored seq, or zero.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM engine_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sqlite: last event seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Save appends st as the newest snapshot.
func (s *Store) Save(ctx context.Context, st domain.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO engine_snapshots (version, last_seq, state, taken_ns) VALUES (?, ?, ?, ?)`,
		st.Version, int64(st.LastSeq), string(data), st.TakenAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot at seq %d: %w", st.LastSeq, err)
	}
	return nil
}

// Latest returns the most recent snapshot, or domain.ErrNotFound.
func (s *Store) Latest(ctx context.Context) (domain.State, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM engine_snapshots ORDER BY last_seq DESC, id DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.State{}, fmt.Errorf("sqlite: latest snapshot: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.State{}, fmt.Errorf("sqlite: latest snapshot: %w", err)
	}

	var st domain.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return domain.State{}, fmt.Errorf("sqlite: decode snapshot: %w", err)
	}
	return st, nil
}

// Prune deletes snapshots older than the newest keep rows and events already
// covered by an archive up to archivedSeq. A zero archivedSeq keeps all events.
func (s *Store) Prune(ctx context.Context, keep int, archivedSeq uint64) error {
	if keep < 1 {
		keep = 1
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM engine_snapshots WHERE id NOT IN (
			SELECT id FROM engine_snapshots ORDER BY last_seq DESC, id DESC LIMIT ?
		)`, keep); err != nil {
		return fmt.Errorf("sqlite: prune snapshots: %w", err)
	}
	if archivedSeq > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM engine_events WHERE seq <= ?`, int64(archivedSeq)); err != nil {
			return fmt.Errorf("sqlite: prune events: %w", err)
		}
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("sqlite: decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
