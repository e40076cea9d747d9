package redis_test

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/evlund/eventsource/core"
	"github.com/evlund/eventsource/core/testsuite"
	"github.com/evlund/eventsource/snapshotstore/redis"
)

// The suite needs a running redis, set REDIS_ADDR to run it:
//
//	REDIS_ADDR=localhost:6379 go test ./snapshotstore/redis
func TestSuite(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("could not reach redis on %s: %v", addr, err)
	}
	f := func() (core.SnapshotStore, func(), error) {
		return redis.Open(client), func() {}, nil
	}
	testsuite.TestSnapshotStore(t, f)
}
