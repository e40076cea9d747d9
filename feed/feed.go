// Package feed tails the global event order of an event store. A
// subscription delivers committed events with strictly increasing global
// version, starting at a caller supplied position, and keeps polling for new
// events until its context is canceled. Delivery is at least once: a consumer
// that re-subscribes from a persisted position can see the events at that
// position again and must be idempotent.
package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/evlund/eventsource/core"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultBatchSize    = 256
	defaultBufferSize   = 64
)

// Feed creates subscriptions on an event store's global order.
type Feed struct {
	store core.EventStore
	log   *zap.Logger
}

// Option configures a Feed or a Subscription.
type Option func(*options)

type options struct {
	pollInterval   time.Duration
	batchSize      int
	bufferSize     int
	aggregateTypes map[string]struct{}
	log            *zap.Logger
}

// WithPollInterval sets the delay between polls when the subscription has
// caught up with the store.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithBatchSize sets how many events are fetched per poll.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithBufferSize sets the subscription channel buffer.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithAggregateTypes filters the subscription to events of the given
// aggregate types. The ordering of the remaining events is unchanged.
func WithAggregateTypes(types ...string) Option {
	return func(o *options) {
		o.aggregateTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			o.aggregateTypes[t] = struct{}{}
		}
	}
}

// WithLogger sets the logger, zap.NewNop() by default.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// New feed over the given event store.
func New(store core.EventStore, opts ...Option) *Feed {
	o := applyOptions(opts)
	log := o.log
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{store: store, log: log}
}

func applyOptions(opts []Option) *options {
	o := &options{
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		bufferSize:   defaultBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscription is a live, non terminating sequence of stored events in
// global order. Read errors are treated as transient and retried after the
// poll interval, canceling the context is the only way the channel closes.
type Subscription struct {
	events chan core.Event
}

// Events emits the subscribed events in strictly increasing global order.
func (s *Subscription) Events() <-chan core.Event {
	return s.events
}

// Subscribe tails the event store from the given global position, inclusive.
// Passing the position of the last handled event plus one resumes after it.
func (f *Feed) Subscribe(ctx context.Context, from core.Version, opts ...Option) *Subscription {
	o := applyOptions(opts)
	sub := &Subscription{events: make(chan core.Event, o.bufferSize)}
	go f.run(ctx, sub, from, o)
	return sub
}

func (f *Feed) run(ctx context.Context, sub *Subscription, from core.Version, o *options) {
	defer close(sub.events)

	log := f.log
	if o.log != nil {
		log = o.log
	}
	position := from

	for {
		events, err := f.store.GlobalGet(ctx, position, o.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// transient read failures only delay the feed, the consumer
			// resumes from its position
			log.Warn("feed poll failed", zap.Uint64("position", uint64(position)), zap.Error(err))
			if !sleep(ctx, o.pollInterval) {
				return
			}
			continue
		}

		for _, event := range events {
			position = event.GlobalVersion + 1
			if o.aggregateTypes != nil {
				if _, ok := o.aggregateTypes[event.AggregateType]; !ok {
					continue
				}
			}
			select {
			case sub.events <- event:
			case <-ctx.Done():
				return
			}
		}

		if len(events) < o.batchSize {
			// caught up, wait before polling again
			if !sleep(ctx, o.pollInterval) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
