package storage

import (
	"context"
	"time"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

// SnapshotStorage persists snapshots and the changes derived from them.
// Schema and pruning live outside the watcher; this is the full surface the
// poller needs.
type SnapshotStorage interface {
	// SaveSnapshot persists a new snapshot together with the changes the
	// diff produced against its predecessor, atomically.
	SaveSnapshot(ctx context.Context, snap *model.Snapshot, changes []model.Change) error
	// GetLatestSnapshot returns the most recent persisted snapshot, or
	// ErrNoSnapshot when nothing has been stored yet.
	GetLatestSnapshot(ctx context.Context) (*model.Snapshot, error)
	// MarkObserved records that a poll saw content identical to the latest
	// snapshot without persisting a new one.
	MarkObserved(ctx context.Context, snapshotID string, observedAt time.Time) error
	// GetChangesSince returns changes detected at or after the given time,
	// newest first.
	GetChangesSince(ctx context.Context, since time.Time) ([]model.Change, error)
	Ping(ctx context.Context) error
}
