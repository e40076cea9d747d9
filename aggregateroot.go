package eventsource

import (
	"errors"
	"reflect"
	"time"

	"github.com/evlund/eventsource/core"
)

// AggregateRoot to be included into aggregates. It tracks the aggregate id,
// the current version and the events raised since the last save. State is
// mutated only by the aggregate's Transition method, making it a pure
// function of the ordered event sequence.
type AggregateRoot struct {
	aggregateID            string
	aggregateVersion       core.Version
	aggregateGlobalVersion core.Version
	aggregateEvents        []Event
	correlationID          string
	causationID            string
}

const emptyAggregateID = ""

// ErrAggregateAlreadyExists returned if the aggregateID is set more than one time
var ErrAggregateAlreadyExists = errors.New("its not possible to set ID on already existing aggregate")

// ErrAggregateNeedsToBeAPointer returned if the aggregate is passed in as a value
var ErrAggregateNeedsToBeAPointer = errors.New("aggregate needs to be a pointer")

// TrackChange is used internally by behaviour methods to apply a state change to
// the current instance and also track it in order that it can be persisted later.
func (ar *AggregateRoot) TrackChange(a aggregate, data interface{}) {
	ar.TrackChangeWithMetadata(a, data, nil)
}

// TrackChangeWithMetadata is used internally by behaviour methods to apply a state change to
// the current instance and also track it in order that it can be persisted later.
// The metadata is stored alongside the event but is not part of the aggregate state.
func (ar *AggregateRoot) TrackChangeWithMetadata(a aggregate, data interface{}, metadata map[string]interface{}) {
	// This can be overwritten in the constructor of the aggregate
	if ar.aggregateID == emptyAggregateID {
		ar.aggregateID = idFunc()
	}

	event := Event{
		event: core.Event{
			AggregateID:   ar.aggregateID,
			Version:       ar.nextVersion(),
			AggregateType: aggregateType(a),
			Reason:        reason(data),
			Timestamp:     time.Now().UTC(),
			CorrelationID: ar.correlationID,
			CausationID:   ar.causationID,
		},
		data:     data,
		metadata: metadata,
	}
	ar.aggregateEvents = append(ar.aggregateEvents, event)
	a.Transition(event)
}

// BuildFromHistory builds the aggregate state from events. The events are
// already committed so they are not tracked as unsaved.
func (ar *AggregateRoot) BuildFromHistory(a aggregate, events []Event) {
	for _, event := range events {
		a.Transition(event)
		ar.aggregateID = event.AggregateID()
		// make sure the aggregate is in the version of the last event
		ar.aggregateVersion = event.Version()
		ar.aggregateGlobalVersion = event.GlobalVersion()
	}
}

func (ar *AggregateRoot) nextVersion() core.Version {
	return ar.Version() + 1
}

// update sets the aggregate version and global version to the values in the
// last event and drops the unsaved events. It is only called from the
// repositories after the events are stored.
func (ar *AggregateRoot) update() {
	if len(ar.aggregateEvents) > 0 {
		lastEvent := ar.aggregateEvents[len(ar.aggregateEvents)-1]
		ar.aggregateVersion = lastEvent.Version()
		ar.aggregateGlobalVersion = lastEvent.GlobalVersion()
		ar.aggregateEvents = []Event{}
	}
}

// setInternals restores id and versions without going through Transition.
// Used when the aggregate state comes from a snapshot.
func (ar *AggregateRoot) setInternals(id string, version, globalVersion core.Version) {
	ar.aggregateID = id
	ar.aggregateVersion = version
	ar.aggregateGlobalVersion = globalVersion
	ar.aggregateEvents = []Event{}
}

// SetID opens up the possibility to set manual aggregate ID from the outside
func (ar *AggregateRoot) SetID(id string) error {
	if ar.aggregateID != emptyAggregateID {
		return ErrAggregateAlreadyExists
	}
	ar.aggregateID = id
	return nil
}

// SetTracing sets the correlation and causation ids that are stamped on
// events raised after this call.
func (ar *AggregateRoot) SetTracing(correlationID, causationID string) {
	ar.correlationID = correlationID
	ar.causationID = causationID
}

// ID returns the aggregate ID as a string
func (ar *AggregateRoot) ID() string {
	return ar.aggregateID
}

// Root returns the included Aggregate Root state, and is used from the interface aggregate.
func (ar *AggregateRoot) Root() *AggregateRoot {
	return ar
}

// Version return the version based on events that are not stored
func (ar *AggregateRoot) Version() core.Version {
	if len(ar.aggregateEvents) > 0 {
		return ar.aggregateEvents[len(ar.aggregateEvents)-1].Version()
	}
	return ar.aggregateVersion
}

// GlobalVersion returns the global version based on the last stored event
func (ar *AggregateRoot) GlobalVersion() core.Version {
	return ar.aggregateGlobalVersion
}

// Events return a copy of the unsaved events on the aggregate
func (ar *AggregateRoot) Events() []Event {
	e := make([]Event, len(ar.aggregateEvents))
	copy(e, ar.aggregateEvents)
	return e
}

// UnsavedEvents return true if there's unsaved events on the aggregate
func (ar *AggregateRoot) UnsavedEvents() bool {
	return len(ar.aggregateEvents) > 0
}

func aggregateType(a aggregate) string {
	return reflect.TypeOf(a).Elem().Name()
}

func reason(data interface{}) string {
	t := reflect.TypeOf(data)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
