package sql

import (
	"database/sql"
	"time"

	"github.com/evlund/eventsource/core"
)

type iterator struct {
	rows *sql.Rows
}

// Next positions the iterator on the next event.
func (i *iterator) Next() bool {
	return i.rows.Next()
}

// Value returns the event the iterator is positioned on.
func (i *iterator) Value() (core.Event, error) {
	return scanEvent(i.rows)
}

// Close closes the iterator
func (i *iterator) Close() {
	i.rows.Close()
}

func scanEvent(rows *sql.Rows) (core.Event, error) {
	var globalVersion, version uint64
	var id, aggregateType, reason, timestamp, correlationID, causationID string
	var data, metadata []byte
	if err := rows.Scan(&globalVersion, &id, &aggregateType, &version, &reason, &timestamp, &correlationID, &causationID, &data, &metadata); err != nil {
		return core.Event{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return core.Event{}, err
	}
	return core.Event{
		AggregateID:   id,
		AggregateType: aggregateType,
		Version:       core.Version(version),
		GlobalVersion: core.Version(globalVersion),
		Reason:        reason,
		Timestamp:     t,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Data:          data,
		Metadata:      metadata,
	}, nil
}
