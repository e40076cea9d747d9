package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/evlund/eventsource/core"
)

const globalEventOrderBucketName = "global_event_order"

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// BBolt event store based on a bbolt database file. Events are stored in one
// bucket per aggregate keyed by version, plus a global bucket keyed by global
// version that spans all aggregates for feed reads. Writes are serialized by
// the single bbolt write transaction, reads run concurrently on read
// transactions and never see a partial batch.
type BBolt struct {
	db *bbolt.DB
}

// MustOpenBBolt opens the event store in the given file. If the file is not
// found it will be created and initialized. Panics if the file can't be opened.
func MustOpenBBolt(dbFile string) *BBolt {
	db, err := bbolt.Open(dbFile, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		panic(err)
	}

	// Ensure that we have a bucket to store the global event ordering
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(globalEventOrderBucketName))
		return err
	})
	if err != nil {
		panic(err)
	}
	return &BBolt{db: db}
}

// Append persists events for one aggregate if its current version equals
// expectedVersion. All events in the batch are written in one transaction.
func (e *BBolt) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion core.Version, events []core.Event) error {
	if err := core.ValidateEvents(aggregateID, aggregateType, events); err != nil {
		return err
	}

	bucketName := []byte(aggregateKey(aggregateType, aggregateID))

	tx, err := e.db.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	evBucket, err := tx.CreateBucketIfNotExists(bucketName)
	if err != nil {
		return fmt.Errorf("could not create aggregate events bucket: %w", err)
	}

	currentVersion := core.Version(0)
	if k, _ := evBucket.Cursor().Last(); k != nil {
		currentVersion = core.Version(binary.BigEndian.Uint64(k))
	}
	if currentVersion != expectedVersion {
		return &core.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: currentVersion}
	}

	globalBucket := tx.Bucket([]byte(globalEventOrderBucketName))

	for i := range events {
		// the global sequence spans all buckets so events can be replayed
		// or forwarded in commit order
		globalSequence, err := globalBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("could not get next global sequence: %w", err)
		}
		events[i].Version = expectedVersion + core.Version(i) + 1
		events[i].GlobalVersion = core.Version(globalSequence)

		value, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("could not serialize event: %w", err)
		}
		if err := evBucket.Put(itob(uint64(events[i].Version)), value); err != nil {
			return fmt.Errorf("could not save event in aggregate bucket: %w", err)
		}
		if err := globalBucket.Put(itob(globalSequence), value); err != nil {
			return fmt.Errorf("could not save event in global bucket: %w", err)
		}
	}
	return tx.Commit()
}

// Get returns an iterator over the aggregate events with version higher than
// afterVersion. The iterator holds a read transaction until it is closed.
func (e *BBolt) Get(ctx context.Context, id string, aggregateType string, afterVersion core.Version) (core.Iterator, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &iterator{
		tx:              tx,
		bucketName:      aggregateKey(aggregateType, id),
		firstEventIndex: uint64(afterVersion) + 1,
	}, nil
}

// CurrentVersion returns the highest stored version for the aggregate, 0 if none.
func (e *BBolt) CurrentVersion(ctx context.Context, id string, aggregateType string) (core.Version, error) {
	var version core.Version
	err := e.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(aggregateKey(aggregateType, id)))
		if bucket == nil {
			return nil
		}
		if k, _ := bucket.Cursor().Last(); k != nil {
			version = core.Version(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	return version, err
}

// Exists returns true if at least one event is stored for the aggregate.
func (e *BBolt) Exists(ctx context.Context, id string, aggregateType string) (bool, error) {
	version, err := e.CurrentVersion(ctx, id, aggregateType)
	return version > 0, err
}

// GlobalGet returns up to limit events with global version at or after start.
func (e *BBolt) GlobalGet(ctx context.Context, start core.Version, limit int) ([]core.Event, error) {
	var events []core.Event
	err := e.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(globalEventOrderBucketName)).Cursor()
		for k, obj := cursor.Seek(itob(uint64(start))); k != nil; k, obj = cursor.Next() {
			event := core.Event{}
			if err := json.Unmarshal(obj, &event); err != nil {
				return fmt.Errorf("could not deserialize event: %w", err)
			}
			events = append(events, event)
			if len(events) == limit {
				break
			}
		}
		return nil
	})
	return events, err
}

// Close closes the event stream and the underlying database
func (e *BBolt) Close() error {
	return e.db.Close()
}

// aggregateKey generates the bucket name events are stored against
func aggregateKey(aggregateType, aggregateID string) string {
	return aggregateType + "_" + aggregateID
}
