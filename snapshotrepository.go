package eventsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evlund/eventsource/core"
)

// ErrUnsavedEvents aggregate events must be saved before creating a snapshot
var ErrUnsavedEvents = errors.New("aggregate holds unsaved events")

// ErrEmptyID indicates that the aggregate ID was empty
var ErrEmptyID = errors.New("aggregate id is empty")

// ErrSnapshotFailed wraps a snapshot write error after the events themselves
// were stored. The save as a whole stands, the aggregate is reconstructible
// from events alone.
var ErrSnapshotFailed = errors.New("snapshot could not be saved")

// SnapshotAggregate is an aggregate that can materialize its state into a
// snapshot payload and restore from one. It is the explicit capability an
// aggregate type either implements or does not, the repositories branch on
// this interface rather than probing with reflection.
type SnapshotAggregate interface {
	aggregate
	// CreateSnapshot returns a pointer to a serializable view of the state.
	// On a fresh aggregate it returns a zero payload to deserialize into.
	CreateSnapshot() interface{}
	// RestoreFromSnapshot sets the state from a payload previously returned
	// by CreateSnapshot, without going through Transition. It must either
	// apply the payload completely or leave the state untouched.
	RestoreFromSnapshot(state interface{}) error
}

// SnapshotRepository saves and fetches aggregates from a snapshot store and
// uses an EventRepository for the events after the snapshot version.
type SnapshotRepository struct {
	eventRepository *EventRepository
	snapshotStore   core.SnapshotStore
	strategy        SnapshotStrategy
	Serializer      SerializeFunc
	Deserializer    DeserializeFunc
}

// NewSnapshotRepository factory function. A nil strategy defaults to
// SnapshotEvery(DefaultSnapshotThreshold).
func NewSnapshotRepository(snapshotStore core.SnapshotStore, eventRepo *EventRepository, strategy SnapshotStrategy) *SnapshotRepository {
	if strategy == nil {
		strategy = SnapshotEvery(DefaultSnapshotThreshold)
	}
	return &SnapshotRepository{
		snapshotStore:   snapshotStore,
		eventRepository: eventRepo,
		strategy:        strategy,
		Serializer:      eventRepo.Serializer,
		Deserializer:    eventRepo.Deserializer,
	}
}

// EventRepository gives access to the underlying event repository, for
// registration and subscriptions.
func (s *SnapshotRepository) EventRepository() *EventRepository {
	return s.eventRepository
}

// Get fetches the latest snapshot if the aggregate supports them, restores it
// and replays the events stored after the snapshot version. Any problem on
// the snapshot path falls back to a full replay from version 0.
func (s *SnapshotRepository) Get(id string, a aggregate) error {
	return s.GetWithContext(context.Background(), id, a)
}

// GetWithContext is Get with an externally cancellable context.
func (s *SnapshotRepository) GetWithContext(ctx context.Context, id string, a aggregate) error {
	if sa, ok := a.(SnapshotAggregate); ok {
		snapshot, err := s.snapshotStore.Get(ctx, id, aggregateType(a))
		if err == nil {
			if err := s.restore(sa, snapshot); err != nil {
				// fall back to full replay
				sa.Root().setInternals(emptyAggregateID, 0, 0)
			}
		}
	}
	return s.eventRepository.GetWithContext(ctx, id, a)
}

// GetAtVersion builds the aggregate as it was at the given version. Only
// snapshots at or before the version are eligible and events beyond it are
// never applied.
func (s *SnapshotRepository) GetAtVersion(ctx context.Context, id string, version core.Version, a aggregate) error {
	if version == 0 {
		return ErrAggregateNotFound
	}
	if sa, ok := a.(SnapshotAggregate); ok {
		snapshot, err := s.snapshotStore.GetAtOrBefore(ctx, id, aggregateType(a), version)
		if err == nil {
			if err := s.restore(sa, snapshot); err != nil {
				sa.Root().setInternals(emptyAggregateID, 0, 0)
			}
		}
	}
	if a.Root().Version() == version {
		return nil
	}
	return s.eventRepository.GetAtVersion(ctx, id, version, a)
}

// Exists reports whether at least one event is stored for the aggregate id.
func (s *SnapshotRepository) Exists(ctx context.Context, id string, a aggregate) (bool, error) {
	return s.eventRepository.Exists(ctx, id, a)
}

// Save stores the aggregate events and, when the snapshot strategy says the
// aggregate is due, a snapshot at the post-append version. A concurrency
// conflict from the event store is propagated unchanged and no snapshot is
// taken.
func (s *SnapshotRepository) Save(a aggregate) error {
	return s.SaveWithContext(context.Background(), a)
}

// SaveWithContext is Save with an externally cancellable context.
func (s *SnapshotRepository) SaveWithContext(ctx context.Context, a aggregate) error {
	err := s.eventRepository.SaveWithContext(ctx, a)
	if err != nil {
		return err
	}

	sa, ok := a.(SnapshotAggregate)
	if !ok {
		return nil
	}

	lastSnapshotVersion := core.Version(0)
	snapshot, err := s.snapshotStore.Get(ctx, a.Root().ID(), aggregateType(a))
	if err == nil {
		lastSnapshotVersion = snapshot.Version
	} else if !errors.Is(err, core.ErrSnapshotNotFound) {
		return fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}

	if !s.strategy.ShouldSnapshot(a.Root().Version(), lastSnapshotVersion) {
		return nil
	}
	if err := s.SaveSnapshot(ctx, sa); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	return nil
}

// SaveSnapshot stores a snapshot of the current state. The aggregate must not
// hold unsaved events, a snapshot of unsaved state could never be reproduced
// from the event log.
func (s *SnapshotRepository) SaveSnapshot(ctx context.Context, sa SnapshotAggregate) error {
	root := sa.Root()
	if root.ID() == emptyAggregateID {
		return ErrEmptyID
	}
	if root.UnsavedEvents() {
		return ErrUnsavedEvents
	}
	state, err := s.Serializer(sa.CreateSnapshot())
	if err != nil {
		return err
	}
	return s.snapshotStore.Save(ctx, core.Snapshot{
		AggregateID:   root.ID(),
		AggregateType: aggregateType(sa),
		Version:       root.Version(),
		GlobalVersion: root.GlobalVersion(),
		Timestamp:     time.Now().UTC(),
		State:         state,
	})
}

// restore sets the aggregate state and versions from the snapshot.
func (s *SnapshotRepository) restore(sa SnapshotAggregate, snapshot core.Snapshot) error {
	state := sa.CreateSnapshot()
	if err := s.Deserializer(snapshot.State, state); err != nil {
		return err
	}
	if err := sa.RestoreFromSnapshot(state); err != nil {
		return err
	}
	sa.Root().setInternals(snapshot.AggregateID, snapshot.Version, snapshot.GlobalVersion)
	return nil
}
