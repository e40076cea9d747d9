package sql

import "context"

// Migrate creates the events table
func (s *SQL) Migrate() error {
	return s.MigrateContext(context.Background())
}

// MigrateContext creates the events table
func (s *SQL) MigrateContext(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		`create table if not exists events (seq integer primary key autoincrement, aggregate_id varchar not null, aggregate_type varchar not null, version integer not null, reason varchar not null, timestamp varchar not null, correlation_id varchar, causation_id varchar, data blob, metadata blob);`,
		`create unique index if not exists events_id_type_version on events (aggregate_id, aggregate_type, version);`,
		`create index if not exists events_id_type on events (aggregate_id, aggregate_type);`,
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return tx.Commit()
}
