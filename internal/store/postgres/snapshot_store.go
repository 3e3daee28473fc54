package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save appends st as the newest snapshot.
func (s *SnapshotStore) Save(ctx context.Context, st domain.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot: %w", err)
	}

	const query = `
		INSERT INTO engine_snapshots (version, last_seq, state, taken_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, st.Version, int64(st.LastSeq), data, st.TakenAt); err != nil {
		return fmt.Errorf("postgres: save snapshot at seq %d: %w", st.LastSeq, err)
	}
	return nil
}

// Latest returns the most recent snapshot, or domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.State, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM engine_snapshots ORDER BY last_seq DESC, id DESC LIMIT 1`,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.State{}, fmt.Errorf("postgres: latest snapshot: %w", domain.ErrNotFound)
		}
		return domain.State{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}

	var st domain.State
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.State{}, fmt.Errorf("postgres: decode snapshot: %w", err)
	}
	return st, nil
}

// Prune deletes all but the newest keep snapshots.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM engine_snapshots
		WHERE id NOT IN (
			SELECT id FROM engine_snapshots ORDER BY last_seq DESC, id DESC LIMIT $1
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
