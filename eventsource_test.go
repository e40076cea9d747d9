package eventsource_test

import (
	"errors"
	"fmt"
	"testing"

	eventsource "github.com/evlund/eventsource"
)

// Person aggregate used across the tests
type Person struct {
	eventsource.AggregateRoot
	name string
	age  int
}

// Born event
type Born struct {
	Name string
}

// AgedOneYear event
type AgedOneYear struct{}

// Renamed event
type Renamed struct {
	Name string
}

// PersonSnapshot is the serializable snapshot payload
type PersonSnapshot struct {
	Name string
	Age  int
}

// CreatePerson constructor for the Person
func CreatePerson(name string) (*Person, error) {
	if name == "" {
		return nil, fmt.Errorf("name can't be blank")
	}
	person := Person{}
	person.TrackChange(&person, &Born{Name: name})
	return &person, nil
}

// CreatePersonWithID constructor for the Person that sets the aggregate id from the outside
func CreatePersonWithID(id, name string) (*Person, error) {
	if name == "" {
		return nil, fmt.Errorf("name can't be blank")
	}
	person := Person{}
	if err := person.SetID(id); err != nil {
		return nil, err
	}
	person.TrackChange(&person, &Born{Name: name})
	return &person, nil
}

// GrowOlder command
func (person *Person) GrowOlder() {
	person.TrackChange(person, &AgedOneYear{})
}

// Rename command
func (person *Person) Rename(name string) error {
	if name == "" {
		return fmt.Errorf("name can't be blank")
	}
	person.TrackChange(person, &Renamed{Name: name})
	return nil
}

// Transition the person state dependent on the events
func (person *Person) Transition(event eventsource.Event) {
	switch e := event.Data().(type) {
	case *Born:
		person.age = 0
		person.name = e.Name
	case *AgedOneYear:
		person.age++
	case *Renamed:
		person.name = e.Name
	}
}

// Register the person events
func (person *Person) Register(f eventsource.RegisterFunc) {
	f(&Born{}, &AgedOneYear{}, &Renamed{})
}

// CreateSnapshot returns the serializable view of the person state
func (person *Person) CreateSnapshot() interface{} {
	return &PersonSnapshot{Name: person.name, Age: person.age}
}

// RestoreFromSnapshot sets the person state from a snapshot payload
func (person *Person) RestoreFromSnapshot(state interface{}) error {
	snapshot, ok := state.(*PersonSnapshot)
	if !ok {
		return fmt.Errorf("unexpected snapshot payload %T", state)
	}
	person.name = snapshot.Name
	person.age = snapshot.Age
	return nil
}

func TestCreateNewPerson(t *testing.T) {
	person, err := CreatePerson("kalle")
	if err != nil {
		t.Fatal("error when creating person", err.Error())
	}
	if person.name != "kalle" {
		t.Fatal("wrong person name")
	}
	if person.age != 0 {
		t.Fatal("wrong person age")
	}
	if len(person.Events()) != 1 {
		t.Fatal("there should be one unsaved event on the person")
	}
	if person.Version() != 1 {
		t.Fatal("wrong version on the person", person.Version())
	}
	if person.ID() == "" {
		t.Fatal("the aggregate id should be generated")
	}
}

func TestCreateNewPersonWithIDFromOutside(t *testing.T) {
	person, err := CreatePersonWithID("123", "kalle")
	if err != nil {
		t.Fatal("error when creating person", err.Error())
	}
	if person.ID() != "123" {
		t.Fatal("wrong aggregate id on the person", person.ID())
	}
}

func TestBlankName(t *testing.T) {
	_, err := CreatePerson("")
	if err == nil {
		t.Fatal("the constructor should return an error on blank name")
	}
}

func TestSetIDOnExistingPerson(t *testing.T) {
	person, err := CreatePerson("kalle")
	if err != nil {
		t.Fatal("error when creating person", err.Error())
	}
	err = person.SetID("new_id")
	if !errors.Is(err, eventsource.ErrAggregateAlreadyExists) {
		t.Fatal("expected error when setting id on already existing aggregate")
	}
}

func TestPersonAgedOneYear(t *testing.T) {
	person, _ := CreatePerson("kalle")
	person.GrowOlder()

	if len(person.Events()) != 2 {
		t.Fatal("there should be two unsaved events on the person")
	}
	if person.Version() != 2 {
		t.Fatal("wrong version on the person", person.Version())
	}
	if person.Events()[1].Reason() != "AgedOneYear" {
		t.Fatal("wrong reason on the last event", person.Events()[1].Reason())
	}
}

// replay determinism: building from history gives the same state as running
// the commands that produced the events
func TestReplayDeterminism(t *testing.T) {
	commanded, _ := CreatePerson("kalle")
	for i := 0; i < 5; i++ {
		commanded.GrowOlder()
	}
	if err := commanded.Rename("anka"); err != nil {
		t.Fatal(err)
	}

	replayed := Person{}
	replayed.BuildFromHistory(&replayed, commanded.Events())

	if replayed.name != commanded.name {
		t.Fatalf("replayed name %q differs from commanded name %q", replayed.name, commanded.name)
	}
	if replayed.age != commanded.age {
		t.Fatalf("replayed age %d differs from commanded age %d", replayed.age, commanded.age)
	}
	if replayed.Version() != commanded.Version() {
		t.Fatalf("replayed version %d differs from commanded version %d", replayed.Version(), commanded.Version())
	}
}

// a failing command must leave the state and the unsaved events untouched
func TestFailedCommandRaisesNothing(t *testing.T) {
	person, _ := CreatePerson("kalle")
	if err := person.Rename(""); err == nil {
		t.Fatal("expected the command to fail")
	}
	if person.name != "kalle" {
		t.Fatal("a failed command must not mutate state")
	}
	if len(person.Events()) != 1 {
		t.Fatal("a failed command must not raise events")
	}
	if person.Version() != 1 {
		t.Fatal("a failed command must not advance the version")
	}
}

func TestMetadataOnEvent(t *testing.T) {
	person := Person{}
	person.TrackChangeWithMetadata(&person, &Born{Name: "kalle"}, map[string]interface{}{"user": "123"})

	event := person.Events()[0]
	if event.Metadata()["user"] != "123" {
		t.Fatal("wrong metadata on the event")
	}
}

func TestTracingOnEvent(t *testing.T) {
	person := Person{}
	person.SetTracing("corr-1", "cause-1")
	person.TrackChange(&person, &Born{Name: "kalle"})

	event := person.Events()[0]
	if event.CorrelationID() != "corr-1" {
		t.Fatal("wrong correlation id on the event")
	}
	if event.CausationID() != "cause-1" {
		t.Fatal("wrong causation id on the event")
	}
}
