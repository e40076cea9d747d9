package memory

import (
	"context"
	"sync"

	"github.com/evlund/eventsource/core"
)

// Memory is a reference event store that keeps everything in process memory.
// A single RWMutex guards all aggregates, which serializes appends across the
// board. That is stricter than required: the contract only needs appends to
// the same aggregate id serialized, so a production backend can swap the
// coarse lock for a per-aggregate lock or an atomic conditional write.
type Memory struct {
	lock            sync.RWMutex
	aggregateEvents map[string][]core.Event
	eventsInOrder   []core.Event
	globalVersion   core.Version
}

// Create in memory event store
func Create() *Memory {
	return &Memory{
		aggregateEvents: make(map[string][]core.Event),
		eventsInOrder:   make([]core.Event, 0),
	}
}

// Append persists events for one aggregate if its current version equals
// expectedVersion. Versions and global versions are assigned here and written
// back onto the passed slice.
func (e *Memory) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion core.Version, events []core.Event) error {
	if err := core.ValidateEvents(aggregateID, aggregateType, events); err != nil {
		return err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	key := aggregateKey(aggregateType, aggregateID)
	bucket := e.aggregateEvents[key]

	currentVersion := core.Version(0)
	if len(bucket) > 0 {
		currentVersion = bucket[len(bucket)-1].Version
	}
	if currentVersion != expectedVersion {
		return &core.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: currentVersion}
	}

	for i := range events {
		e.globalVersion++
		events[i].Version = expectedVersion + core.Version(i) + 1
		events[i].GlobalVersion = e.globalVersion
		bucket = append(bucket, events[i])
		e.eventsInOrder = append(e.eventsInOrder, events[i])
	}
	e.aggregateEvents[key] = bucket
	return nil
}

// Get returns an iterator over the aggregate events with version higher than
// afterVersion. The iterator works on a copy so a concurrent append never
// exposes a partial batch.
func (e *Memory) Get(ctx context.Context, id string, aggregateType string, afterVersion core.Version) (core.Iterator, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	bucket, ok := e.aggregateEvents[aggregateKey(aggregateType, id)]
	if !ok {
		return core.NopIterator{}, nil
	}
	events := make([]core.Event, 0, len(bucket))
	for _, event := range bucket {
		if event.Version > afterVersion {
			events = append(events, event)
		}
	}
	return &iterator{events: events}, nil
}

// CurrentVersion returns the highest stored version for the aggregate, 0 if none.
func (e *Memory) CurrentVersion(ctx context.Context, id string, aggregateType string) (core.Version, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	bucket := e.aggregateEvents[aggregateKey(aggregateType, id)]
	if len(bucket) == 0 {
		return 0, nil
	}
	return bucket[len(bucket)-1].Version, nil
}

// Exists returns true if at least one event is stored for the aggregate.
func (e *Memory) Exists(ctx context.Context, id string, aggregateType string) (bool, error) {
	version, err := e.CurrentVersion(ctx, id, aggregateType)
	return version > 0, err
}

// GlobalGet returns up to limit events with global version at or after start.
func (e *Memory) GlobalGet(ctx context.Context, start core.Version, limit int) ([]core.Event, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	events := make([]core.Event, 0)
	for _, event := range e.eventsInOrder {
		if event.GlobalVersion < start {
			continue
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

// Close does nothing
func (e *Memory) Close() {}

type iterator struct {
	events   []core.Event
	position int
}

func (i *iterator) Next() bool {
	if i.position >= len(i.events) {
		return false
	}
	i.position++
	return true
}

func (i *iterator) Value() (core.Event, error) {
	return i.events[i.position-1], nil
}

func (i *iterator) Close() {}

// aggregateKey generates the key events are stored against
func aggregateKey(aggregateType, aggregateID string) string {
	return aggregateType + "_" + aggregateID
}
