package eventsource_test

import (
	"context"
	"errors"
	"testing"

	eventsource "github.com/evlund/eventsource"
	"github.com/evlund/eventsource/core"
	eventstore "github.com/evlund/eventsource/eventstore/memory"
	snapshotstore "github.com/evlund/eventsource/snapshotstore/memory"
)

func newSnapshotRepository(strategy eventsource.SnapshotStrategy) (*eventsource.SnapshotRepository, *snapshotstore.Memory) {
	eventRepo := eventsource.NewEventRepository(eventstore.Create())
	eventRepo.Register(&Person{})
	ss := snapshotstore.Create()
	return eventsource.NewSnapshotRepository(ss, eventRepo, strategy), ss
}

func TestSnapshotSaveAndGet(t *testing.T) {
	repo, _ := newSnapshotRepository(eventsource.SnapshotAlways())

	person, err := CreatePerson("kalle")
	if err != nil {
		t.Fatal(err)
	}
	person.GrowOlder()
	person.GrowOlder()
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	twin := Person{}
	if err := repo.Get(person.ID(), &twin); err != nil {
		t.Fatal(err)
	}
	if twin.name != person.name {
		t.Fatalf("wrong name on the restored person %q, expected %q", twin.name, person.name)
	}
	if twin.age != person.age {
		t.Fatalf("wrong age on the restored person %d, expected %d", twin.age, person.age)
	}
	if twin.Version() != person.Version() {
		t.Fatalf("wrong version on the restored person %d, expected %d", twin.Version(), person.Version())
	}
	if twin.GlobalVersion() != person.GlobalVersion() {
		t.Fatalf("wrong global version on the restored person %d, expected %d", twin.GlobalVersion(), person.GlobalVersion())
	}
}

// loading via snapshot and loading via full replay must produce the same
// aggregate, field for field
func TestSnapshotEquivalentToReplay(t *testing.T) {
	eventRepo := eventsource.NewEventRepository(eventstore.Create())
	eventRepo.Register(&Person{})
	repo := eventsource.NewSnapshotRepository(snapshotstore.Create(), eventRepo, eventsource.SnapshotAlways())

	person, _ := CreatePerson("kalle")
	for i := 0; i < 10; i++ {
		person.GrowOlder()
	}
	if err := person.Rename("anka"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	fromSnapshot := Person{}
	if err := repo.Get(person.ID(), &fromSnapshot); err != nil {
		t.Fatal(err)
	}
	fromReplay := Person{}
	if err := eventRepo.Get(person.ID(), &fromReplay); err != nil {
		t.Fatal(err)
	}

	if fromSnapshot.name != fromReplay.name || fromSnapshot.age != fromReplay.age {
		t.Fatalf("snapshot load (%q, %d) differs from replay (%q, %d)",
			fromSnapshot.name, fromSnapshot.age, fromReplay.name, fromReplay.age)
	}
	if fromSnapshot.Version() != fromReplay.Version() {
		t.Fatalf("snapshot load version %d differs from replay version %d",
			fromSnapshot.Version(), fromReplay.Version())
	}
	if fromSnapshot.GlobalVersion() != fromReplay.GlobalVersion() {
		t.Fatalf("snapshot load global version %d differs from replay global version %d",
			fromSnapshot.GlobalVersion(), fromReplay.GlobalVersion())
	}
}

// snapshot at version N plus events after N equals the full replay state
func TestSnapshotThenNewerEvents(t *testing.T) {
	repo, ss := newSnapshotRepository(eventsource.SnapshotAlways())

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	// append more events through the event repository only, the snapshot is
	// now stale
	person.GrowOlder()
	person.GrowOlder()
	if err := repo.EventRepository().Save(person); err != nil {
		t.Fatal(err)
	}

	snapshot, err := ss.Get(context.Background(), person.ID(), "Person")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Version != 2 {
		t.Fatal("the snapshot should still be at version 2, got", snapshot.Version)
	}

	twin := Person{}
	if err := repo.Get(person.ID(), &twin); err != nil {
		t.Fatal(err)
	}
	if twin.Version() != 4 {
		t.Fatal("events after the snapshot should be replayed, version", twin.Version())
	}
	if twin.age != 3 {
		t.Fatal("wrong age after replaying past the snapshot", twin.age)
	}
}

// 150 events against a threshold of 100, saved as the aggregate would do it,
// produce exactly one snapshot and it sits at version 100
func TestSnapshotThreshold(t *testing.T) {
	repo, ss := newSnapshotRepository(eventsource.SnapshotEvery(100))

	person, _ := CreatePerson("kalle")
	for i := 0; i < 99; i++ {
		person.GrowOlder()
	}
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		person.GrowOlder()
	}
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}
	if person.Version() != 150 {
		t.Fatal("wrong version on the person", person.Version())
	}

	snapshot, err := ss.Get(context.Background(), person.ID(), "Person")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Version != 100 {
		t.Fatal("the snapshot should be at version 100, got", snapshot.Version)
	}
	// only the version 100 snapshot exists
	if _, err := ss.GetAtOrBefore(context.Background(), person.ID(), "Person", 99); !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatal("no snapshot should exist below version 100")
	}
	if s, err := ss.GetAtOrBefore(context.Background(), person.ID(), "Person", 150); err != nil || s.Version != 100 {
		t.Fatalf("the latest snapshot at or before 150 should be version 100, got %d (%v)", s.Version, err)
	}
}

func TestSnapshotNeverTakesNone(t *testing.T) {
	repo, ss := newSnapshotRepository(eventsource.SnapshotNever())

	person, _ := CreatePerson("kalle")
	for i := 0; i < 200; i++ {
		person.GrowOlder()
	}
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}
	if _, err := ss.Get(context.Background(), person.ID(), "Person"); !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatal("no snapshot should have been taken")
	}
}

// a corrupt snapshot must not poison the load, the aggregate is rebuilt from
// the full event history instead
func TestCorruptSnapshotFallsBackToReplay(t *testing.T) {
	repo, ss := newSnapshotRepository(eventsource.SnapshotAlways())

	person, _ := CreatePerson("kalle")
	person.GrowOlder()
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	if err := ss.Save(context.Background(), core.Snapshot{
		AggregateID:   person.ID(),
		AggregateType: "Person",
		Version:       2,
		State:         []byte("not json"),
	}); err != nil {
		t.Fatal(err)
	}

	twin := Person{}
	if err := repo.Get(person.ID(), &twin); err != nil {
		t.Fatal(err)
	}
	if twin.name != "kalle" || twin.age != 1 {
		t.Fatalf("full replay should rebuild the state, got (%q, %d)", twin.name, twin.age)
	}
	if twin.Version() != 2 {
		t.Fatal("wrong version after the fallback replay", twin.Version())
	}
}

func TestGetAtVersionFromSnapshot(t *testing.T) {
	repo, _ := newSnapshotRepository(eventsource.SnapshotEvery(5))

	person, _ := CreatePerson("kalle")
	for i := 0; i < 4; i++ {
		person.GrowOlder()
	}
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		person.GrowOlder()
	}
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	// version 5 has a snapshot, loading at exactly that version needs no replay
	atSnapshot := Person{}
	if err := repo.GetAtVersion(context.Background(), person.ID(), 5, &atSnapshot); err != nil {
		t.Fatal(err)
	}
	if atSnapshot.Version() != 5 || atSnapshot.age != 4 {
		t.Fatalf("wrong state at version 5 (version %d, age %d)", atSnapshot.Version(), atSnapshot.age)
	}

	// version 7 replays two events on top of the version 5 snapshot
	between := Person{}
	if err := repo.GetAtVersion(context.Background(), person.ID(), 7, &between); err != nil {
		t.Fatal(err)
	}
	if between.Version() != 7 || between.age != 6 {
		t.Fatalf("wrong state at version 7 (version %d, age %d)", between.Version(), between.age)
	}
}

// version 0 is not-found on the snapshot path too, a zero value aggregate is
// never handed back as success
func TestGetAtVersionZero(t *testing.T) {
	repo, _ := newSnapshotRepository(eventsource.SnapshotAlways())

	person := Person{}
	err := repo.GetAtVersion(context.Background(), "no_such_aggregate", 0, &person)
	if !errors.Is(err, eventsource.ErrAggregateNotFound) {
		t.Fatal("expected aggregate not found error, got", err)
	}
	if person.Version() != 0 || person.name != "" {
		t.Fatal("the aggregate must stay untouched")
	}
}

func TestSnapshotRepositoryExists(t *testing.T) {
	repo, _ := newSnapshotRepository(eventsource.SnapshotAlways())

	person, _ := CreatePerson("kalle")
	if err := repo.Save(person); err != nil {
		t.Fatal(err)
	}

	exists, err := repo.Exists(context.Background(), person.ID(), &Person{})
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("the saved person should exist")
	}

	exists, err = repo.Exists(context.Background(), "none_existing", &Person{})
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("a never saved person should not exist")
	}
}

func TestSaveSnapshotWithUnsavedEvents(t *testing.T) {
	repo, _ := newSnapshotRepository(eventsource.SnapshotNever())

	person, _ := CreatePerson("kalle")
	err := repo.SaveSnapshot(context.Background(), person)
	if !errors.Is(err, eventsource.ErrUnsavedEvents) {
		t.Fatal("expected unsaved events error, got", err)
	}
}

func TestSaveSnapshotWithEmptyID(t *testing.T) {
	repo, _ := newSnapshotRepository(eventsource.SnapshotNever())

	person := Person{}
	err := repo.SaveSnapshot(context.Background(), &person)
	if !errors.Is(err, eventsource.ErrEmptyID) {
		t.Fatal("expected empty id error, got", err)
	}
}

// failingSnapshotStore rejects every write
type failingSnapshotStore struct {
	core.SnapshotStore
}

func (failingSnapshotStore) Save(ctx context.Context, snapshot core.Snapshot) error {
	return errors.New("disk full")
}

func (failingSnapshotStore) Get(ctx context.Context, id, aggregateType string) (core.Snapshot, error) {
	return core.Snapshot{}, core.ErrSnapshotNotFound
}

// a failing snapshot write surfaces as ErrSnapshotFailed but the appended
// events stand
func TestSnapshotFailureAfterAppend(t *testing.T) {
	eventRepo := eventsource.NewEventRepository(eventstore.Create())
	eventRepo.Register(&Person{})
	repo := eventsource.NewSnapshotRepository(failingSnapshotStore{}, eventRepo, eventsource.SnapshotAlways())

	person, _ := CreatePerson("kalle")
	err := repo.Save(person)
	if !errors.Is(err, eventsource.ErrSnapshotFailed) {
		t.Fatal("expected snapshot failed error, got", err)
	}
	if person.UnsavedEvents() {
		t.Fatal("the events were appended, the aggregate should hold no unsaved events")
	}

	twin := Person{}
	if err := repo.Get(person.ID(), &twin); err != nil {
		t.Fatal("the aggregate should load from events alone, got", err)
	}
	if twin.name != "kalle" {
		t.Fatal("wrong state on the reloaded person", twin.name)
	}
}

// a plain aggregate without the snapshot capability passes straight through
type plainCounter struct {
	eventsource.AggregateRoot
	count int
}

type counterBumped struct{}

func (c *plainCounter) Bump() {
	c.TrackChange(c, &counterBumped{})
}

func (c *plainCounter) Transition(event eventsource.Event) {
	switch event.Data().(type) {
	case *counterBumped:
		c.count++
	}
}

func (c *plainCounter) Register(f eventsource.RegisterFunc) {
	f(&counterBumped{})
}

func TestNonSnapshotAggregate(t *testing.T) {
	eventRepo := eventsource.NewEventRepository(eventstore.Create())
	eventRepo.Register(&plainCounter{})
	ss := snapshotstore.Create()
	repo := eventsource.NewSnapshotRepository(ss, eventRepo, eventsource.SnapshotAlways())

	counter := plainCounter{}
	counter.Bump()
	counter.Bump()
	if err := repo.Save(&counter); err != nil {
		t.Fatal(err)
	}
	if _, err := ss.Get(context.Background(), counter.ID(), "plainCounter"); !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatal("no snapshot should be taken for an aggregate without the capability")
	}

	twin := plainCounter{}
	if err := repo.Get(counter.ID(), &twin); err != nil {
		t.Fatal(err)
	}
	if twin.count != 2 {
		t.Fatal("wrong count on the reloaded counter", twin.count)
	}
}
