package eventsource

import (
	"reflect"
	"strings"
	"sync"
)

type registerFunc = func() interface{}

// RegisterFunc is passed to the aggregate's Register method so it can list
// its event types.
type RegisterFunc = func(events ...interface{})

// register maps the stable string tag aggregateType_reason to a function
// creating a fresh instance of the concrete event type. Historic tags that no
// longer match a type name in code are kept alive via aliases.
type register struct {
	lock       sync.RWMutex
	r          map[string]registerFunc
	aliases    map[string]string
	aggregates map[string]struct{}
}

func newRegister() *register {
	return &register{
		r:          make(map[string]registerFunc),
		aliases:    make(map[string]string),
		aggregates: make(map[string]struct{}),
	}
}

// Type return the func to generate the correct event data type
func (r *register) Type(typ, reason string) (registerFunc, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if f, ok := r.lookup(typ + "_" + reason); ok {
		return f, true
	}
	// fall back for tags written with a fully qualified type name by an
	// earlier deployment
	if i := strings.LastIndexByte(reason, '.'); i >= 0 {
		return r.lookup(typ + "_" + reason[i+1:])
	}
	return nil, false
}

// lookup resolves a type tag directly or through its alias. Callers hold the lock.
func (r *register) lookup(key string) (registerFunc, bool) {
	if f, ok := r.r[key]; ok {
		return f, true
	}
	if current, ok := r.aliases[key]; ok {
		f, ok := r.r[current]
		return f, ok
	}
	return nil, false
}

// AggregateRegistered returns true if the aggregate is registered
func (r *register) AggregateRegistered(a aggregate) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	typ := aggregateType(a)
	_, ok := r.aggregates[typ]
	return ok
}

// EventRegistered returns the constructor for the event if its type tag is known
func (r *register) EventRegistered(typ, reason string) (registerFunc, bool) {
	return r.Type(typ, reason)
}

// Register registers the aggregate and the event types listed by its
// Register method.
func (r *register) Register(a aggregate) {
	typ := aggregateType(a)

	fu := func(events ...interface{}) {
		r.lock.Lock()
		defer r.lock.Unlock()

		for _, e := range events {
			reason := reason(e)
			r.r[typ+"_"+reason] = eventToFunc(e)
		}
		r.aggregates[typ] = struct{}{}
	}
	a.Register(fu)
}

// RegisterAlias maps a retired event name to a currently registered event
// type so that historic events deserialize after a rename.
func (r *register) RegisterAlias(a aggregate, oldReason string, event interface{}) {
	r.lock.Lock()
	defer r.lock.Unlock()

	typ := aggregateType(a)
	r.aliases[typ+"_"+oldReason] = typ + "_" + reason(event)
}

func eventToFunc(event interface{}) registerFunc {
	t := reflect.TypeOf(event)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return func() interface{} { return reflect.New(t).Interface() }
}
