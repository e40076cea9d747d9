package memory

import (
	"context"
	"sync"

	"github.com/evlund/eventsource/core"
)

// Memory snapshot store. Snapshots are kept per aggregate ordered by version
// so point in time reads and retention work the same way as in the durable
// backends.
type Memory struct {
	lock  sync.RWMutex
	store map[string][]core.Snapshot
}

// Create in memory snapshot store
func Create() *Memory {
	return &Memory{
		store: make(map[string][]core.Snapshot),
	}
}

// Save persists the snapshot. A snapshot at an already stored version replaces it.
func (m *Memory) Save(ctx context.Context, snapshot core.Snapshot) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := aggregateKey(snapshot.AggregateType, snapshot.AggregateID)
	snapshots := m.store[key]

	// keep the slice ordered by version
	inserted := false
	for i, s := range snapshots {
		if s.Version == snapshot.Version {
			snapshots[i] = snapshot
			inserted = true
			break
		}
		if s.Version > snapshot.Version {
			snapshots = append(snapshots[:i], append([]core.Snapshot{snapshot}, snapshots[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		snapshots = append(snapshots, snapshot)
	}
	m.store[key] = snapshots
	return nil
}

// Get returns the snapshot with the highest version
func (m *Memory) Get(ctx context.Context, id, aggregateType string) (core.Snapshot, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	snapshots := m.store[aggregateKey(aggregateType, id)]
	if len(snapshots) == 0 {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	return snapshots[len(snapshots)-1], nil
}

// GetAtOrBefore returns the snapshot with the highest version not exceeding maxVersion
func (m *Memory) GetAtOrBefore(ctx context.Context, id, aggregateType string, maxVersion core.Version) (core.Snapshot, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	snapshots := m.store[aggregateKey(aggregateType, id)]
	for i := len(snapshots) - 1; i >= 0; i-- {
		if snapshots[i].Version <= maxVersion {
			return snapshots[i], nil
		}
	}
	return core.Snapshot{}, core.ErrSnapshotNotFound
}

// Delete removes all snapshots for the aggregate
func (m *Memory) Delete(ctx context.Context, id, aggregateType string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.store, aggregateKey(aggregateType, id))
	return nil
}

// DeleteBefore removes snapshots with version lower than the given version
func (m *Memory) DeleteBefore(ctx context.Context, id, aggregateType string, version core.Version) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := aggregateKey(aggregateType, id)
	kept := make([]core.Snapshot, 0)
	for _, s := range m.store[key] {
		if s.Version >= version {
			kept = append(kept, s)
		}
	}
	m.store[key] = kept
	return nil
}

func aggregateKey(aggregateType, aggregateID string) string {
	return aggregateType + "_" + aggregateID
}
