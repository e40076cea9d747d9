package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrConcurrency when the expected version of the aggregate differs from the
// version currently in the store. Matched by errors.Is against the
// *ConcurrencyError returned from Append.
var ErrConcurrency = errors.New("concurrency error")

// ConcurrencyError reports the details of a failed optimistic concurrency
// check. The caller is expected to reload the aggregate and retry the command.
type ConcurrencyError struct {
	AggregateID string
	Expected    Version
	Actual      Version
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency error: aggregate %s expected version %d, actual version %d", e.AggregateID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrConcurrency) true for ConcurrencyError values.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

// Iterator is the interface an event store Get needs to return
type Iterator interface {
	Next() bool
	Value() (Event, error)
	Close()
}

// EventStore interface expose the methods an event store must uphold.
//
// Append is all-or-nothing per call: it persists the events only if the
// current version of the aggregate equals expectedVersion, assigning the
// versions expectedVersion+1..expectedVersion+len(events) and a strictly
// increasing global version to each event. The passed slice is updated in
// place with the assigned versions. Appends to the same aggregate id are
// serialized by the store; appends to different aggregates proceed
// independently.
type EventStore interface {
	Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion Version, events []Event) error
	Get(ctx context.Context, id string, aggregateType string, afterVersion Version) (Iterator, error)
	CurrentVersion(ctx context.Context, id string, aggregateType string) (Version, error)
	Exists(ctx context.Context, id string, aggregateType string) (bool, error)
	// GlobalGet returns up to limit events with global version at or after
	// start, in global order. It is the read path for feed subscriptions.
	GlobalGet(ctx context.Context, start Version, limit int) ([]Event, error)
}
