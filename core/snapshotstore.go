package core

import (
	"context"
	"errors"
	"time"
)

// ErrSnapshotNotFound returns if snapshot not found
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot holds the state of an aggregate at a given version. A snapshot is
// an optimization only: restoring it and replaying the events after Version
// must yield the same state as a full replay from version 0.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       Version
	GlobalVersion Version
	Timestamp     time.Time
	State         []byte
}

// SnapshotStore interface expose the methods a snapshot store must uphold.
// Snapshots are keyed by (aggregate id, aggregate type, version).
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	// Get returns the snapshot with the highest version, or ErrSnapshotNotFound.
	Get(ctx context.Context, id, aggregateType string) (Snapshot, error)
	// GetAtOrBefore returns the snapshot with the highest version not
	// exceeding maxVersion, or ErrSnapshotNotFound. Used for point in time reads.
	GetAtOrBefore(ctx context.Context, id, aggregateType string, maxVersion Version) (Snapshot, error)
	// Delete removes all snapshots for the aggregate.
	Delete(ctx context.Context, id, aggregateType string) error
	// DeleteBefore removes snapshots with version lower than the given
	// version. Used for retention.
	DeleteBefore(ctx context.Context, id, aggregateType string, version Version) error
}
