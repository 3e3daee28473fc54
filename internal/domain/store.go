package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the committed event log.
type EventStore interface {
	Append(ctx context.Context, events []Event) error
	ListSince(ctx context.Context, afterSeq uint64, limit int) ([]Event, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Event, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// SnapshotStore persists engine state snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, st State) error
	Latest(ctx context.Context) (State, error)
}
