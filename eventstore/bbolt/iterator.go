package bbolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/evlund/eventsource/core"
)

type iterator struct {
	tx              *bbolt.Tx
	bucketName      string
	firstEventIndex uint64
	cursor          *bbolt.Cursor
	value           []byte
}

// Next positions the iterator on the next event.
func (i *iterator) Next() bool {
	var k, obj []byte
	if i.cursor == nil {
		bucket := i.tx.Bucket([]byte(i.bucketName))
		if bucket == nil {
			return false
		}
		i.cursor = bucket.Cursor()
		k, obj = i.cursor.Seek(itob(i.firstEventIndex))
	} else {
		k, obj = i.cursor.Next()
	}
	if k == nil {
		return false
	}
	i.value = obj
	return true
}

// Value returns the event the iterator is positioned on.
func (i *iterator) Value() (core.Event, error) {
	event := core.Event{}
	if err := json.Unmarshal(i.value, &event); err != nil {
		return core.Event{}, fmt.Errorf("could not deserialize event: %w", err)
	}
	return event, nil
}

// Close ends the read transaction.
func (i *iterator) Close() {
	i.tx.Rollback()
}
