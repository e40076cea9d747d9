// Package kafka forwards a feed subscription to a Kafka topic so external
// projections can consume committed events without access to the event store.
// Delivery keeps the at least once semantics of the feed: the relay retries
// failed writes and consumers deduplicate on the global version header.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/evlund/eventsource/core"
	"github.com/evlund/eventsource/feed"
)

// Writer is the part of kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay pipes events from a feed subscription into Kafka. Messages are keyed
// by aggregate id so events of one aggregate land in one partition, keeping
// their relative order for consumers.
type Relay struct {
	feed          *feed.Feed
	writer        Writer
	log           *zap.Logger
	retryInterval time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger, zap.NewNop() by default.
func WithLogger(log *zap.Logger) Option {
	return func(r *Relay) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRetryInterval sets the delay between write retries.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// New relay from the feed into the writer.
func New(f *feed.Feed, w Writer, opts ...Option) *Relay {
	r := &Relay{
		feed:          f,
		writer:        w,
		log:           zap.NewNop(),
		retryInterval: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run subscribes from the given global position and forwards events until the
// context is canceled. The caller persists its resume position from the
// global version of the messages it has seen acknowledged downstream.
func (r *Relay) Run(ctx context.Context, from core.Version, opts ...feed.Option) error {
	sub := r.feed.Subscribe(ctx, from, opts...)
	for event := range sub.Events() {
		msg, err := message(event)
		if err != nil {
			// a stored event that cannot be marshalled again is a data
			// error, stopping is better than silently dropping it
			return err
		}
		if err := r.write(ctx, msg, event.GlobalVersion); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// write retries until the message is accepted or the context is canceled.
func (r *Relay) write(ctx context.Context, msg kafka.Message, position core.Version) error {
	for {
		err := r.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("kafka write failed",
			zap.Uint64("position", uint64(position)),
			zap.Error(err),
		)
		timer := time.NewTimer(r.retryInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func message(event core.Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
			{Key: "reason", Value: []byte(event.Reason)},
			{Key: "global_version", Value: []byte(strconv.FormatUint(uint64(event.GlobalVersion), 10))},
		},
		Time: event.Timestamp,
	}, nil
}
