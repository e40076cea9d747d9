package core

import "errors"

// ErrEventMultipleAggregates when events holds different id
var ErrEventMultipleAggregates = errors.New("events holds events for more than one aggregate")

// ErrEventMultipleAggregateTypes when events holds different aggregate types
var ErrEventMultipleAggregateTypes = errors.New("events holds events for more than one aggregate type")

// ErrReasonMissing when the reason is not present in the events
var ErrReasonMissing = errors.New("event holds no reason")

// ErrNoEvents when there are no events to append
var ErrNoEvents = errors.New("no events")

// ValidateEvents make sure the incoming events are valid before they are
// appended: all events must belong to the given aggregate and carry a reason.
// Versions are not checked here, they are assigned by the store.
func ValidateEvents(aggregateID, aggregateType string, events []Event) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	for _, event := range events {
		if event.AggregateID != aggregateID {
			return ErrEventMultipleAggregates
		}
		if event.AggregateType != aggregateType {
			return ErrEventMultipleAggregateTypes
		}
		if event.Reason == "" {
			return ErrReasonMissing
		}
	}
	return nil
}
