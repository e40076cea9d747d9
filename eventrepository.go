package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/evlund/eventsource/core"
)

// aggregate interface to use the aggregate root specific methods
type aggregate interface {
	Root() *AggregateRoot
	Transition(event Event)
	Register(RegisterFunc)
}

// EventSubscribers exposes the in-process event subscriptions
type EventSubscribers interface {
	All(f func(e Event)) *Subscription
	AggregateID(f func(e Event), aggregates ...aggregate) *Subscription
	Aggregate(f func(e Event), aggregates ...aggregate) *Subscription
	Event(f func(e Event), events ...interface{}) *Subscription
	Name(f func(e Event), aggregate string, events ...string) *Subscription
}

var (
	// ErrAggregateNotFound returned when no events (or snapshot) exist for the aggregate id
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrAggregateNotRegistered when saving an aggregate that is not registered in the repository
	ErrAggregateNotRegistered = errors.New("aggregate not registered")

	// ErrEventNotRegistered when a stored event has a type tag that no
	// registered event type (or alias) resolves. The read fails rather than
	// skipping the event, skipping would corrupt replay.
	ErrEventNotRegistered = errors.New("event not registered")

	// ErrConcurrency when the currently saved version of the aggregate differs from the new events.
	// The concrete error returned from Save is a *core.ConcurrencyError carrying
	// the aggregate id and the expected and actual versions.
	ErrConcurrency = core.ErrConcurrency
)

type SerializeFunc func(v interface{}) ([]byte, error)
type DeserializeFunc func(data []byte, v interface{}) error

// EventRepository loads and saves aggregates through an event store. It owns
// no aggregate state itself, only the orchestration of replay and append.
type EventRepository struct {
	eventStream *EventStream
	eventStore  core.EventStore
	// register that convert the Data []byte to correct type
	register *register
	// serializer / deserializer, json by default
	Serializer   SerializeFunc
	Deserializer DeserializeFunc
}

// NewEventRepository factory function
func NewEventRepository(eventStore core.EventStore) *EventRepository {
	return &EventRepository{
		eventStore:   eventStore,
		eventStream:  NewEventStream(),
		Serializer:   json.Marshal,
		Deserializer: json.Unmarshal,
		register:     newRegister(),
	}
}

// Register the aggregate and its event types
func (r *EventRepository) Register(a aggregate) {
	r.register.Register(a)
}

// RegisterAlias maps a retired event name to its current event type so
// historic events keep deserializing after a rename.
func (r *EventRepository) RegisterAlias(a aggregate, oldReason string, event interface{}) {
	r.register.RegisterAlias(a, oldReason, event)
}

// Subscribers returns an interface with all event subscribers
func (r *EventRepository) Subscribers() EventSubscribers {
	return r.eventStream
}

// Save an aggregates events. A no-op if there are no unsaved events. On a
// version conflict the error from the event store is returned unchanged, the
// repository never retries on behalf of the caller.
func (r *EventRepository) Save(a aggregate) error {
	return r.SaveWithContext(context.Background(), a)
}

// SaveWithContext is Save with an externally cancellable context.
func (r *EventRepository) SaveWithContext(ctx context.Context, a aggregate) error {
	root := a.Root()
	if !root.UnsavedEvents() {
		return nil
	}
	if !r.register.AggregateRegistered(a) {
		return ErrAggregateNotRegistered
	}

	// serialize the data and metadata into []byte
	esEvents := make([]core.Event, 0, len(root.aggregateEvents))
	for _, event := range root.aggregateEvents {
		data, err := r.Serializer(event.Data())
		if err != nil {
			return err
		}
		metadata, err := r.Serializer(event.Metadata())
		if err != nil {
			return err
		}

		esEvent := event.event
		esEvent.Data = data
		esEvent.Metadata = metadata
		if _, ok := r.register.EventRegistered(esEvent.AggregateType, esEvent.Reason); !ok {
			return fmt.Errorf("%w: %s_%s", ErrEventNotRegistered, esEvent.AggregateType, esEvent.Reason)
		}
		esEvents = append(esEvents, esEvent)
	}

	// the version before this batch was raised
	expectedVersion := root.Version() - core.Version(len(esEvents))

	err := r.eventStore.Append(ctx, root.ID(), aggregateType(a), expectedVersion, esEvents)
	if err != nil {
		if errors.Is(err, core.ErrConcurrency) {
			return err
		}
		return fmt.Errorf("error from event store: %w", err)
	}

	// update the global version on events bound to the aggregate
	for i := range esEvents {
		root.aggregateEvents[i].event.GlobalVersion = esEvents[i].GlobalVersion
	}

	// publish the saved events to subscribers
	r.eventStream.Publish(*root, root.Events())

	// update the internal aggregate state
	root.update()
	return nil
}

// Get fetches the aggregates events and builds up the aggregate.
// If the aggregate is based on a snapshot it fetches events after the
// version of the aggregate.
func (r *EventRepository) Get(id string, a aggregate) error {
	return r.GetWithContext(context.Background(), id, a)
}

// GetWithContext fetches the aggregates events and builds up the aggregate.
// The event fetching can be canceled from the outside.
func (r *EventRepository) GetWithContext(ctx context.Context, id string, a aggregate) error {
	return r.getUpTo(ctx, id, a, 0)
}

// GetAtVersion builds the aggregate as it was at the given version. Events
// with a higher version are never applied.
func (r *EventRepository) GetAtVersion(ctx context.Context, id string, version core.Version, a aggregate) error {
	if version == 0 {
		return ErrAggregateNotFound
	}
	return r.getUpTo(ctx, id, a, version)
}

// getUpTo replays events onto the aggregate. A maxVersion of 0 means no upper bound.
func (r *EventRepository) getUpTo(ctx context.Context, id string, a aggregate, maxVersion core.Version) error {
	if reflect.ValueOf(a).Kind() != reflect.Ptr {
		return ErrAggregateNeedsToBeAPointer
	}

	root := a.Root()
	// fetch events after the current version of the aggregate, which is non
	// zero when the aggregate state comes from a snapshot
	eventIterator, err := r.eventStore.Get(ctx, id, aggregateType(a), root.aggregateVersion)
	if err != nil {
		return err
	}
	defer eventIterator.Close()

	for eventIterator.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		event, err := eventIterator.Value()
		if err != nil {
			return err
		}
		if maxVersion > 0 && event.Version > maxVersion {
			break
		}
		e, err := r.toExternalEvent(event)
		if err != nil {
			return err
		}
		root.BuildFromHistory(a, []Event{e})
	}
	if root.Version() == 0 {
		return ErrAggregateNotFound
	}
	return nil
}

// Exists reports whether at least one event is stored for the aggregate id.
func (r *EventRepository) Exists(ctx context.Context, id string, a aggregate) (bool, error) {
	return r.eventStore.Exists(ctx, id, aggregateType(a))
}

// toExternalEvent resolves the type tag and deserializes the payload and metadata.
func (r *EventRepository) toExternalEvent(event core.Event) (Event, error) {
	f, found := r.register.EventRegistered(event.AggregateType, event.Reason)
	if !found {
		return Event{}, fmt.Errorf("%w: %s_%s", ErrEventNotRegistered, event.AggregateType, event.Reason)
	}
	data := f()
	if err := r.Deserializer(event.Data, data); err != nil {
		return Event{}, err
	}
	metadata := make(map[string]interface{})
	if len(event.Metadata) > 0 {
		if err := r.Deserializer(event.Metadata, &metadata); err != nil {
			return Event{}, err
		}
	}
	return NewEvent(event, data, metadata), nil
}
