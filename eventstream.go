package eventsource

import (
	"reflect"
	"sync"
)

// EventStream handles in-process event subscriptions. Subscribers are called
// synchronously when an aggregate is saved, in the order the events were
// raised. For a durable, resumable feed over all committed events use the
// feed package instead.
type EventStream struct {
	// holds subscribers of aggregate types events
	aggregateTypes map[string][]*Subscription
	// holds subscribers of specific aggregates (type and identifier)
	specificAggregates map[string][]*Subscription
	// holds subscribers of specific events
	specificEvents map[reflect.Type][]*Subscription
	// holds subscribers of aggregate type and event name combinations
	names map[string][]*Subscription
	// holds subscribers of all events
	allEvents []*Subscription
	// makes sure events are delivered in order and subscriptions are persistent
	lock sync.Mutex
}

// Subscription holds the subscribe / unsubscribe functions and the func to be
// called when an event matches the subscription
type Subscription struct {
	f      func(e Event)
	unsubF func()
	subF   func()
}

// Unsubscribe stops the subscription
func (s *Subscription) Unsubscribe() {
	s.unsubF()
}

// Subscribe starts the subscription
func (s *Subscription) Subscribe() {
	s.subF()
}

// NewEventStream factory function
func NewEventStream() *EventStream {
	return &EventStream{
		aggregateTypes:     make(map[string][]*Subscription),
		specificAggregates: make(map[string][]*Subscription),
		specificEvents:     make(map[reflect.Type][]*Subscription),
		names:              make(map[string][]*Subscription),
	}
}

// Publish calls the functions that are subscribing to events
func (e *EventStream) Publish(root AggregateRoot, events []Event) {
	// the lock prevents other event updates from getting mixed with this update
	e.lock.Lock()
	defer e.lock.Unlock()

	for _, event := range events {
		for _, s := range e.allEvents {
			s.f(event)
		}

		t := reflect.TypeOf(event.Data())
		if subs, ok := e.specificEvents[t]; ok {
			for _, s := range subs {
				s.f(event)
			}
		}

		if subs, ok := e.aggregateTypes[event.AggregateType()]; ok {
			for _, s := range subs {
				s.f(event)
			}
		}

		ref := event.AggregateType() + "_" + root.ID()
		if subs, ok := e.specificAggregates[ref]; ok {
			for _, s := range subs {
				s.f(event)
			}
		}

		ref = event.AggregateType() + "_" + event.Reason()
		if subs, ok := e.names[ref]; ok {
			for _, s := range subs {
				s.f(event)
			}
		}
	}
}

func remove(subs []*Subscription, s *Subscription) []*Subscription {
	for i, sub := range subs {
		if s == sub {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// All binds the f function to be called on all events
func (e *EventStream) All(f func(e Event)) *Subscription {
	s := Subscription{f: f}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		e.allEvents = remove(e.allEvents, &s)
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		e.allEvents = append(e.allEvents, &s)
	}
	return &s
}

// AggregateID binds the f function to be called on events that belong to the
// given aggregates, matched on type and id
func (e *EventStream) AggregateID(f func(e Event), aggregates ...aggregate) *Subscription {
	s := Subscription{f: f}
	refs := make([]string, 0, len(aggregates))
	for _, a := range aggregates {
		refs = append(refs, aggregateType(a)+"_"+a.Root().ID())
	}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, ref := range refs {
			e.specificAggregates[ref] = remove(e.specificAggregates[ref], &s)
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, ref := range refs {
			e.specificAggregates[ref] = append(e.specificAggregates[ref], &s)
		}
	}
	return &s
}

// Aggregate binds the f function to be called on all events for the given
// aggregate types
func (e *EventStream) Aggregate(f func(e Event), aggregates ...aggregate) *Subscription {
	s := Subscription{f: f}
	refs := make([]string, 0, len(aggregates))
	for _, a := range aggregates {
		refs = append(refs, aggregateType(a))
	}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, ref := range refs {
			e.aggregateTypes[ref] = remove(e.aggregateTypes[ref], &s)
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, ref := range refs {
			e.aggregateTypes[ref] = append(e.aggregateTypes[ref], &s)
		}
	}
	return &s
}

// Event binds the f function to be called on specific event types
func (e *EventStream) Event(f func(e Event), events ...interface{}) *Subscription {
	s := Subscription{f: f}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, event := range events {
			t := reflect.TypeOf(event)
			e.specificEvents[t] = remove(e.specificEvents[t], &s)
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, event := range events {
			t := reflect.TypeOf(event)
			e.specificEvents[t] = append(e.specificEvents[t], &s)
		}
	}
	return &s
}

// Name binds the f function to be called on events matched by the aggregate
// type and event names, useful when the subscriber does not hold the event types
func (e *EventStream) Name(f func(e Event), aggregate string, events ...string) *Subscription {
	s := Subscription{f: f}
	s.unsubF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, event := range events {
			ref := aggregate + "_" + event
			e.names[ref] = remove(e.names[ref], &s)
		}
	}
	s.subF = func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		for _, event := range events {
			ref := aggregate + "_" + event
			e.names[ref] = append(e.names[ref], &s)
		}
	}
	return &s
}
