package testsuite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/evlund/eventsource/core"
)

var seededRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// AggregateID returns a random aggregate id so suite runs don't collide on
// stores backed by files.
func AggregateID() string {
	return fmt.Sprintf("%d", seededRand.Intn(999999999999))
}

type eventstoreFunc = func() (core.EventStore, func(), error)

// Status represents the Red, Silver or Gold tier level of a FrequentFlierAccount
type Status int

const (
	StatusRed    Status = iota
	StatusSilver Status = iota
	StatusGold   Status = iota
)

type FrequentFlierAccountCreated struct {
	AccountId         string
	OpeningMiles      int
	OpeningTierPoints int
}

type StatusMatched struct {
	NewStatus Status
}

type FlightTaken struct {
	MilesAdded      int
	TierPointsAdded int
}

var aggregateType = "FrequentFlierAccount"
var timestamp = time.Now()

func eventToByte(i interface{}) []byte {
	b, _ := json.Marshal(i)
	return b
}

func testEvents(aggregateID string) []core.Event {
	metadata := map[string]interface{}{"test": "hello"}
	return []core.Event{
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FrequentFlierAccountCreated", Data: eventToByte(&FrequentFlierAccountCreated{AccountId: "1234567", OpeningMiles: 10000, OpeningTierPoints: 0}), Metadata: eventToByte(metadata)},
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "StatusMatched", Data: eventToByte(&StatusMatched{NewStatus: StatusSilver}), Metadata: eventToByte(metadata)},
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FlightTaken", Data: eventToByte(&FlightTaken{MilesAdded: 2525, TierPointsAdded: 5}), Metadata: eventToByte(metadata)},
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FlightTaken", Data: eventToByte(&FlightTaken{MilesAdded: 2512, TierPointsAdded: 5}), Metadata: eventToByte(metadata)},
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FlightTaken", Data: eventToByte(&FlightTaken{MilesAdded: 5600, TierPointsAdded: 5}), Metadata: eventToByte(metadata)},
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FlightTaken", Data: eventToByte(&FlightTaken{MilesAdded: 3000, TierPointsAdded: 3}), Metadata: eventToByte(metadata)},
	}
}

func testEventsPartTwo(aggregateID string) []core.Event {
	return []core.Event{
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FlightTaken", Data: eventToByte(&FlightTaken{MilesAdded: 5600, TierPointsAdded: 5})},
		{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FlightTaken", Data: eventToByte(&FlightTaken{MilesAdded: 3000, TierPointsAdded: 3})},
	}
}

func testEventOtherAggregate(aggregateID string) core.Event {
	return core.Event{AggregateID: aggregateID, AggregateType: aggregateType, Timestamp: timestamp, Reason: "FrequentFlierAccountCreated", Data: eventToByte(&FrequentFlierAccountCreated{AccountId: "1234567", OpeningMiles: 10000, OpeningTierPoints: 0})}
}

// Test runs the event store acceptance suite against the store returned from esFunc.
func Test(t *testing.T, esFunc eventstoreFunc) {
	tests := []struct {
		title string
		run   func(es core.EventStore) error
	}{
		{"should save and get events", saveAndGetEvents},
		{"should get events after version", getEventsAfterVersion},
		{"should assign contiguous versions", assignContiguousVersions},
		{"should reject append on wrong expected version", appendOnWrongVersion},
		{"should report expected and actual version on conflict", conflictReportsVersions},
		{"should let exactly one racing append win", racingAppends},
		{"should save and get events concurrently on different aggregates", saveAndGetEventsConcurrently},
		{"should return no events when aggregate is unknown", getWhenNoEvents},
		{"should not mix events from different aggregates in one append", appendMultipleAggregates},
		{"should not append events without reason", appendWithoutReason},
		{"should assign global versions in save order", saveReturnGlobalEventOrder},
		{"should page the global order from a position", globalGetPaging},
		{"should report current version and existence", currentVersionAndExists},
	}

	for _, test := range tests {
		t.Run(test.title, func(t *testing.T) {
			es, closeFunc, err := esFunc()
			if err != nil {
				t.Fatal(err)
			}
			err = test.run(es)
			if err != nil {
				// t.Error instead of t.Fatal to make sure the closeFunc is executed
				t.Error(err)
			}
			closeFunc()
		})
	}
}

func fetch(es core.EventStore, id string, afterVersion core.Version) ([]core.Event, error) {
	iterator, err := es.Get(context.Background(), id, aggregateType, afterVersion)
	if err != nil {
		return nil, err
	}
	defer iterator.Close()
	events := make([]core.Event, 0)
	for iterator.Next() {
		event, err := iterator.Value()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func saveAndGetEvents(es core.EventStore) error {
	aggregateID := AggregateID()
	events := testEvents(aggregateID)
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, events)
	if err != nil {
		return err
	}
	fetchedEvents, err := fetch(es, aggregateID, 0)
	if err != nil {
		return err
	}
	if len(fetchedEvents) != len(events) {
		return errors.New("wrong number of events returned")
	}
	if fetchedEvents[0].Version != 1 {
		return errors.New("wrong version on the first event")
	}

	// add more events to the same aggregate event stream
	err = es.Append(context.Background(), aggregateID, aggregateType, 6, testEventsPartTwo(aggregateID))
	if err != nil {
		return err
	}
	fetchedEvents, err = fetch(es, aggregateID, 0)
	if err != nil {
		return err
	}
	if len(fetchedEvents) != 8 {
		return errors.New("wrong number of events returned after second append")
	}
	if fetchedEvents[len(fetchedEvents)-1].Version != 8 {
		return errors.New("wrong version on the last event")
	}
	if fetchedEvents[0].AggregateID != aggregateID {
		return errors.New("wrong aggregate id on fetched event")
	}
	if fetchedEvents[0].Reason != "FrequentFlierAccountCreated" {
		return errors.New("wrong reason on fetched event")
	}
	return nil
}

func getEventsAfterVersion(es core.EventStore) error {
	aggregateID := AggregateID()
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, testEvents(aggregateID))
	if err != nil {
		return err
	}
	fetchedEvents, err := fetch(es, aggregateID, 1)
	if err != nil {
		return err
	}
	// only six events are saved, the first is skipped
	if len(fetchedEvents) != 5 {
		return fmt.Errorf("wrong number of events returned, expected 5 got %d", len(fetchedEvents))
	}
	if fetchedEvents[0].Version != 2 {
		return errors.New("first event version should be 2")
	}
	return nil
}

func assignContiguousVersions(es core.EventStore) error {
	aggregateID := AggregateID()
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, testEvents(aggregateID))
	if err != nil {
		return err
	}
	err = es.Append(context.Background(), aggregateID, aggregateType, 6, testEventsPartTwo(aggregateID))
	if err != nil {
		return err
	}
	fetchedEvents, err := fetch(es, aggregateID, 0)
	if err != nil {
		return err
	}
	for i, event := range fetchedEvents {
		if event.Version != core.Version(i+1) {
			return fmt.Errorf("versions not contiguous, expected %d got %d", i+1, event.Version)
		}
	}
	return nil
}

func appendOnWrongVersion(es core.EventStore) error {
	aggregateID := AggregateID()
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, testEvents(aggregateID))
	if err != nil {
		return err
	}
	// the aggregate is at version 6
	err = es.Append(context.Background(), aggregateID, aggregateType, 3, testEventsPartTwo(aggregateID))
	if !errors.Is(err, core.ErrConcurrency) {
		return fmt.Errorf("expected concurrency error got %v", err)
	}
	// the failed append must not leave partial writes behind
	fetchedEvents, err := fetch(es, aggregateID, 0)
	if err != nil {
		return err
	}
	if len(fetchedEvents) != 6 {
		return fmt.Errorf("failed append left partial writes, expected 6 events got %d", len(fetchedEvents))
	}
	return nil
}

func conflictReportsVersions(es core.EventStore) error {
	aggregateID := AggregateID()
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, testEvents(aggregateID))
	if err != nil {
		return err
	}
	err = es.Append(context.Background(), aggregateID, aggregateType, 1, testEventsPartTwo(aggregateID))
	var conflict *core.ConcurrencyError
	if !errors.As(err, &conflict) {
		return fmt.Errorf("expected *core.ConcurrencyError got %v", err)
	}
	if conflict.AggregateID != aggregateID {
		return errors.New("conflict reports wrong aggregate id")
	}
	if conflict.Expected != 1 {
		return fmt.Errorf("conflict reports wrong expected version, got %d", conflict.Expected)
	}
	if conflict.Actual != 6 {
		return fmt.Errorf("conflict reports wrong actual version, got %d", conflict.Actual)
	}
	return nil
}

func racingAppends(es core.EventStore) error {
	aggregateID := AggregateID()
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, testEvents(aggregateID))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var lock sync.Mutex
	winners := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// all writers believe the aggregate is at version 6
			err := es.Append(context.Background(), aggregateID, aggregateType, 6, testEventsPartTwo(aggregateID))
			if err == nil {
				lock.Lock()
				winners++
				lock.Unlock()
				return
			}
			if !errors.Is(err, core.ErrConcurrency) {
				lock.Lock()
				winners = -100
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		return fmt.Errorf("expected exactly one racing append to win, got %d", winners)
	}
	fetchedEvents, err := fetch(es, aggregateID, 0)
	if err != nil {
		return err
	}
	if len(fetchedEvents) != 8 {
		return fmt.Errorf("expected 8 events after the race, got %d", len(fetchedEvents))
	}
	return nil
}

func saveAndGetEventsConcurrently(es core.EventStore) error {
	wg := sync.WaitGroup{}
	var err error

	for i := 0; i < 10; i++ {
		eventID := fmt.Sprintf("%s-%d", AggregateID(), i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := es.Append(context.Background(), eventID, aggregateType, 0, testEvents(eventID))
			if e != nil {
				err = e
			}
		}()
	}
	wg.Wait()
	if err != nil {
		return err
	}

	for i := 0; i < 10; i++ {
		eventID := fmt.Sprintf("%s-%d", AggregateID(), i+10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e := es.Append(context.Background(), eventID, aggregateType, 0, testEvents(eventID)); e != nil {
				err = e
				return
			}
			events, e := fetch(es, eventID, 0)
			if e != nil {
				err = e
				return
			}
			if len(events) != 6 {
				err = fmt.Errorf("wrong number of events fetched, expecting 6 got %d", len(events))
			}
		}()
	}
	wg.Wait()
	return err
}

func getWhenNoEvents(es core.EventStore) error {
	aggregateID := AggregateID()
	iterator, err := es.Get(context.Background(), aggregateID, aggregateType, 0)
	if err != nil {
		return err
	}
	defer iterator.Close()
	if iterator.Next() {
		return fmt.Errorf("expect no event when no events are saved")
	}
	return nil
}

func appendMultipleAggregates(es core.EventStore) error {
	aggregateID := AggregateID()
	events := testEvents(aggregateID)
	events[2].AggregateID = "other"
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, events)
	if !errors.Is(err, core.ErrEventMultipleAggregates) {
		return fmt.Errorf("expected multiple aggregates error got %v", err)
	}
	return nil
}

func appendWithoutReason(es core.EventStore) error {
	aggregateID := AggregateID()
	events := testEvents(aggregateID)
	events[1].Reason = ""
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, events)
	if !errors.Is(err, core.ErrReasonMissing) {
		return fmt.Errorf("expected reason missing error got %v", err)
	}
	return nil
}

func saveReturnGlobalEventOrder(es core.EventStore) error {
	aggregateID := AggregateID()
	aggregateID2 := AggregateID()
	events := testEvents(aggregateID)
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, events)
	if err != nil {
		return err
	}
	if events[len(events)-1].GlobalVersion == 0 {
		return fmt.Errorf("expected global event order > 0 on last event got %d", events[len(events)-1].GlobalVersion)
	}
	events2 := []core.Event{testEventOtherAggregate(aggregateID2)}
	err = es.Append(context.Background(), aggregateID2, aggregateType, 0, events2)
	if err != nil {
		return err
	}
	if events2[0].GlobalVersion <= events[len(events)-1].GlobalVersion {
		return fmt.Errorf("expected larger global event order got %d", events2[0].GlobalVersion)
	}
	return nil
}

func globalGetPaging(es core.EventStore) error {
	aggregateID := AggregateID()
	events := testEvents(aggregateID)
	err := es.Append(context.Background(), aggregateID, aggregateType, 0, events)
	if err != nil {
		return err
	}
	start := events[0].GlobalVersion

	page, err := es.GlobalGet(context.Background(), start, 4)
	if err != nil {
		return err
	}
	if len(page) != 4 {
		return fmt.Errorf("expected page of 4 events got %d", len(page))
	}
	last := page[len(page)-1].GlobalVersion
	page, err = es.GlobalGet(context.Background(), last+1, 4)
	if err != nil {
		return err
	}
	if len(page) != 2 {
		return fmt.Errorf("expected page of 2 events got %d", len(page))
	}
	previous := start - 1
	for _, event := range page {
		if event.GlobalVersion <= previous {
			return errors.New("global order not strictly increasing")
		}
		previous = event.GlobalVersion
	}
	return nil
}

func currentVersionAndExists(es core.EventStore) error {
	aggregateID := AggregateID()

	exists, err := es.Exists(context.Background(), aggregateID, aggregateType)
	if err != nil {
		return err
	}
	if exists {
		return errors.New("aggregate should not exist before anything is saved")
	}
	version, err := es.CurrentVersion(context.Background(), aggregateID, aggregateType)
	if err != nil {
		return err
	}
	if version != 0 {
		return fmt.Errorf("expected version 0 got %d", version)
	}

	err = es.Append(context.Background(), aggregateID, aggregateType, 0, testEvents(aggregateID))
	if err != nil {
		return err
	}
	version, err = es.CurrentVersion(context.Background(), aggregateID, aggregateType)
	if err != nil {
		return err
	}
	if version != 6 {
		return fmt.Errorf("expected version 6 got %d", version)
	}
	exists, err = es.Exists(context.Background(), aggregateID, aggregateType)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("aggregate should exist after events are saved")
	}
	return nil
}
