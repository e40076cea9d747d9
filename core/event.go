package core

import (
	"time"
)

// Version is the sequence number of an event. It is used both for the
// per-aggregate version (starting at 1, contiguous) and for the store-wide
// global version (strictly increasing, never reused).
type Version uint64

// Event holding meta data and the application specific event in the Data property.
// The identity of a stored event is (AggregateID, Version); Version and
// GlobalVersion are assigned by the event store when the event is appended.
type Event struct {
	AggregateID   string
	Version       Version
	GlobalVersion Version
	AggregateType string
	Timestamp     time.Time
	Reason        string // based on the Data type
	Data          []byte // interface{} on the external Event type
	Metadata      []byte // map[string]interface{} on the external Event type
	CorrelationID string // optional tracing id linking related events
	CausationID   string // optional tracing id of the command or event that caused this one
}
