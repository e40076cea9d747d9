package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/evlund/eventsource/core"
)

// SQL snapshot store on a database/sql connection. Snapshots are keyed by
// (aggregate_id, aggregate_type, version) so several snapshots per aggregate
// can coexist for point in time reads.
type SQL struct {
	db *sql.DB
}

// Open the snapshot store with a database connection
func Open(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// Close the connection
func (s *SQL) Close() {
	s.db.Close()
}

// Migrate creates the snapshots table
func (s *SQL) Migrate() error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		`create table if not exists snapshots (aggregate_id varchar not null, aggregate_type varchar not null, version integer not null, global_version integer not null, timestamp varchar not null, state blob);`,
		`create unique index if not exists snapshots_id_type_version on snapshots (aggregate_id, aggregate_type, version);`,
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(context.Background(), statement); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Save persists the snapshot. A snapshot at an already stored version replaces it.
func (s *SQL) Save(ctx context.Context, snapshot core.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statement := `delete from snapshots where aggregate_id=? and aggregate_type=? and version=?`
	if _, err := tx.ExecContext(ctx, statement, snapshot.AggregateID, snapshot.AggregateType, uint64(snapshot.Version)); err != nil {
		return err
	}
	statement = `insert into snapshots (aggregate_id, aggregate_type, version, global_version, timestamp, state) values (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, statement,
		snapshot.AggregateID,
		snapshot.AggregateType,
		uint64(snapshot.Version),
		uint64(snapshot.GlobalVersion),
		snapshot.Timestamp.Format(time.RFC3339Nano),
		snapshot.State,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the snapshot with the highest version
func (s *SQL) Get(ctx context.Context, id, aggregateType string) (core.Snapshot, error) {
	statement := `select aggregate_id, aggregate_type, version, global_version, timestamp, state from snapshots where aggregate_id=? and aggregate_type=? order by version desc limit 1`
	return s.get(ctx, statement, id, aggregateType)
}

// GetAtOrBefore returns the snapshot with the highest version not exceeding maxVersion
func (s *SQL) GetAtOrBefore(ctx context.Context, id, aggregateType string, maxVersion core.Version) (core.Snapshot, error) {
	statement := `select aggregate_id, aggregate_type, version, global_version, timestamp, state from snapshots where aggregate_id=? and aggregate_type=? and version<=? order by version desc limit 1`
	return s.get(ctx, statement, id, aggregateType, uint64(maxVersion))
}

func (s *SQL) get(ctx context.Context, statement string, args ...interface{}) (core.Snapshot, error) {
	var version, globalVersion uint64
	var id, aggregateType, timestamp string
	var state []byte
	err := s.db.QueryRowContext(ctx, statement, args...).Scan(&id, &aggregateType, &version, &globalVersion, &timestamp, &state)
	if err == sql.ErrNoRows {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	if err != nil {
		return core.Snapshot{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return core.Snapshot{}, err
	}
	return core.Snapshot{
		AggregateID:   id,
		AggregateType: aggregateType,
		Version:       core.Version(version),
		GlobalVersion: core.Version(globalVersion),
		Timestamp:     t,
		State:         state,
	}, nil
}

// Delete removes all snapshots for the aggregate
func (s *SQL) Delete(ctx context.Context, id, aggregateType string) error {
	statement := `delete from snapshots where aggregate_id=? and aggregate_type=?`
	_, err := s.db.ExecContext(ctx, statement, id, aggregateType)
	return err
}

// DeleteBefore removes snapshots with version lower than the given version
func (s *SQL) DeleteBefore(ctx context.Context, id, aggregateType string, version core.Version) error {
	statement := `delete from snapshots where aggregate_id=? and aggregate_type=? and version<?`
	_, err := s.db.ExecContext(ctx, statement, id, aggregateType, uint64(version))
	return err
}
