package eventsource

import (
	"time"

	"github.com/evlund/eventsource/core"
)

// Version is re-exported for convenience when using the root package only.
type Version = core.Version

// Event holds the application specific event data together with the stored
// envelope. The data is typed, the underlying core.Event carries the
// serialized form.
type Event struct {
	event    core.Event
	data     interface{}
	metadata map[string]interface{}
}

// NewEvent combines a stored event with its deserialized data and metadata.
func NewEvent(e core.Event, data interface{}, metadata map[string]interface{}) Event {
	return Event{event: e, data: data, metadata: metadata}
}

func (e Event) Data() interface{} {
	return e.data
}

func (e Event) Metadata() map[string]interface{} {
	return e.metadata
}

func (e Event) AggregateID() string {
	return e.event.AggregateID
}

func (e Event) AggregateType() string {
	return e.event.AggregateType
}

func (e Event) Reason() string {
	return e.event.Reason
}

func (e Event) Version() core.Version {
	return e.event.Version
}

func (e Event) GlobalVersion() core.Version {
	return e.event.GlobalVersion
}

func (e Event) Timestamp() time.Time {
	return e.event.Timestamp
}

func (e Event) CorrelationID() string {
	return e.event.CorrelationID
}

func (e Event) CausationID() string {
	return e.event.CausationID
}
