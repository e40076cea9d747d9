package bbolt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evlund/eventsource/core"
	"github.com/evlund/eventsource/core/testsuite"
	"github.com/evlund/eventsource/eventstore/bbolt"
)

func TestSuite(t *testing.T) {
	f := func() (core.EventStore, func(), error) {
		dbFile := filepath.Join(t.TempDir(), "bolt.db")
		es := bbolt.MustOpenBBolt(dbFile)
		return es, func() {
			es.Close()
			os.Remove(dbFile)
		}, nil
	}
	testsuite.Test(t, f)
}
