package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/evlund/eventsource/core"
)

// SQL event store on a database/sql connection. The schema keeps one row per
// event with a unique index on (aggregate_id, aggregate_type, version) and an
// auto increment sequence as the global position. The unique index is the
// backstop that makes the optimistic concurrency check atomic when two
// writers race past the version read.
type SQL struct {
	db *sql.DB
}

// Open the event store with a database connection
func Open(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// Close the connection
func (s *SQL) Close() {
	s.db.Close()
}

// Append persists events for one aggregate if its current version equals
// expectedVersion. The batch is written in one transaction.
func (s *SQL) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion core.Version, events []core.Event) error {
	if err := core.ValidateEvents(aggregateID, aggregateType, events); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start a write transaction: %w", err)
	}
	defer tx.Rollback()

	currentVersion, err := s.version(ctx, tx, aggregateID, aggregateType)
	if err != nil {
		return err
	}
	if currentVersion != expectedVersion {
		return &core.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: currentVersion}
	}

	insert := `insert into events (aggregate_id, aggregate_type, version, reason, timestamp, correlation_id, causation_id, data, metadata) values (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i := range events {
		events[i].Version = expectedVersion + core.Version(i) + 1
		res, err := tx.ExecContext(ctx, insert,
			aggregateID,
			aggregateType,
			uint64(events[i].Version),
			events[i].Reason,
			events[i].Timestamp.Format(time.RFC3339Nano),
			events[i].CorrelationID,
			events[i].CausationID,
			events[i].Data,
			events[i].Metadata,
		)
		if err != nil {
			tx.Rollback()
			return s.conflictOr(ctx, aggregateID, aggregateType, expectedVersion, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		events[i].GlobalVersion = core.Version(seq)
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return s.conflictOr(ctx, aggregateID, aggregateType, expectedVersion, err)
	}
	return nil
}

// conflictOr converts an insert failure caused by a racing append into a
// ConcurrencyError, any other failure is returned as is.
func (s *SQL) conflictOr(ctx context.Context, aggregateID, aggregateType string, expectedVersion core.Version, err error) error {
	actual, verr := s.CurrentVersion(ctx, aggregateID, aggregateType)
	if verr == nil && actual != expectedVersion {
		return &core.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: actual}
	}
	return err
}

func (s *SQL) version(ctx context.Context, tx *sql.Tx, aggregateID, aggregateType string) (core.Version, error) {
	var version uint64
	statement := `select coalesce(max(version), 0) from events where aggregate_id=? and aggregate_type=?`
	if err := tx.QueryRowContext(ctx, statement, aggregateID, aggregateType).Scan(&version); err != nil {
		return 0, err
	}
	return core.Version(version), nil
}

// Get returns an iterator over the aggregate events with version higher than afterVersion.
func (s *SQL) Get(ctx context.Context, id string, aggregateType string, afterVersion core.Version) (core.Iterator, error) {
	statement := `select seq, aggregate_id, aggregate_type, version, reason, timestamp, correlation_id, causation_id, data, metadata from events where aggregate_id=? and aggregate_type=? and version>? order by version asc`
	rows, err := s.db.QueryContext(ctx, statement, id, aggregateType, uint64(afterVersion))
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

// CurrentVersion returns the highest stored version for the aggregate, 0 if none.
func (s *SQL) CurrentVersion(ctx context.Context, id string, aggregateType string) (core.Version, error) {
	var version uint64
	statement := `select coalesce(max(version), 0) from events where aggregate_id=? and aggregate_type=?`
	if err := s.db.QueryRowContext(ctx, statement, id, aggregateType).Scan(&version); err != nil {
		return 0, err
	}
	return core.Version(version), nil
}

// Exists returns true if at least one event is stored for the aggregate.
func (s *SQL) Exists(ctx context.Context, id string, aggregateType string) (bool, error) {
	version, err := s.CurrentVersion(ctx, id, aggregateType)
	return version > 0, err
}

// GlobalGet returns up to limit events with global version at or after start.
func (s *SQL) GlobalGet(ctx context.Context, start core.Version, limit int) ([]core.Event, error) {
	statement := `select seq, aggregate_id, aggregate_type, version, reason, timestamp, correlation_id, causation_id, data, metadata from events where seq>=? order by seq asc limit ?`
	rows, err := s.db.QueryContext(ctx, statement, uint64(start), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]core.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
