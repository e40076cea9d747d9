package testsuite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/evlund/eventsource/core"
)

type snapshotstoreFunc = func() (core.SnapshotStore, func(), error)

func testSnapshot(aggregateID string, version core.Version) core.Snapshot {
	return core.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		GlobalVersion: version,
		Timestamp:     time.Now().UTC(),
		State:         []byte(fmt.Sprintf(`{"miles":%d}`, version)),
	}
}

// TestSnapshotStore runs the snapshot store acceptance suite against the
// store returned from ssFunc.
func TestSnapshotStore(t *testing.T, ssFunc snapshotstoreFunc) {
	tests := []struct {
		title string
		run   func(ss core.SnapshotStore) error
	}{
		{"should return not found when empty", snapshotNotFound},
		{"should save and get the latest snapshot", saveAndGetLatest},
		{"should replace a snapshot on the same version", replaceSameVersion},
		{"should get the snapshot at or before a version", getAtOrBefore},
		{"should delete all snapshots", deleteSnapshots},
		{"should delete snapshots before a version", deleteSnapshotsBefore},
	}

	for _, test := range tests {
		t.Run(test.title, func(t *testing.T) {
			ss, closeFunc, err := ssFunc()
			if err != nil {
				t.Fatal(err)
			}
			err = test.run(ss)
			if err != nil {
				t.Error(err)
			}
			closeFunc()
		})
	}
}

func snapshotNotFound(ss core.SnapshotStore) error {
	aggregateID := AggregateID()
	_, err := ss.Get(context.Background(), aggregateID, aggregateType)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		return fmt.Errorf("expected ErrSnapshotNotFound got %v", err)
	}
	_, err = ss.GetAtOrBefore(context.Background(), aggregateID, aggregateType, 100)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		return fmt.Errorf("expected ErrSnapshotNotFound got %v", err)
	}
	return nil
}

func saveAndGetLatest(ss core.SnapshotStore) error {
	aggregateID := AggregateID()
	for _, version := range []core.Version{10, 20, 30} {
		if err := ss.Save(context.Background(), testSnapshot(aggregateID, version)); err != nil {
			return err
		}
	}
	snapshot, err := ss.Get(context.Background(), aggregateID, aggregateType)
	if err != nil {
		return err
	}
	if snapshot.Version != 30 {
		return fmt.Errorf("expected latest snapshot version 30 got %d", snapshot.Version)
	}
	if snapshot.AggregateID != aggregateID {
		return errors.New("wrong aggregate id on snapshot")
	}
	if string(snapshot.State) != `{"miles":30}` {
		return errors.New("wrong state on snapshot")
	}
	return nil
}

func replaceSameVersion(ss core.SnapshotStore) error {
	aggregateID := AggregateID()
	if err := ss.Save(context.Background(), testSnapshot(aggregateID, 10)); err != nil {
		return err
	}
	replacement := testSnapshot(aggregateID, 10)
	replacement.State = []byte(`{"miles":999}`)
	if err := ss.Save(context.Background(), replacement); err != nil {
		return err
	}
	snapshot, err := ss.Get(context.Background(), aggregateID, aggregateType)
	if err != nil {
		return err
	}
	if string(snapshot.State) != `{"miles":999}` {
		return errors.New("snapshot on same version was not replaced")
	}
	return nil
}

func getAtOrBefore(ss core.SnapshotStore) error {
	aggregateID := AggregateID()
	for _, version := range []core.Version{10, 20, 30} {
		if err := ss.Save(context.Background(), testSnapshot(aggregateID, version)); err != nil {
			return err
		}
	}
	snapshot, err := ss.GetAtOrBefore(context.Background(), aggregateID, aggregateType, 25)
	if err != nil {
		return err
	}
	if snapshot.Version != 20 {
		return fmt.Errorf("expected snapshot version 20 got %d", snapshot.Version)
	}
	snapshot, err = ss.GetAtOrBefore(context.Background(), aggregateID, aggregateType, 10)
	if err != nil {
		return err
	}
	if snapshot.Version != 10 {
		return fmt.Errorf("expected snapshot version 10 got %d", snapshot.Version)
	}
	_, err = ss.GetAtOrBefore(context.Background(), aggregateID, aggregateType, 9)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		return fmt.Errorf("expected ErrSnapshotNotFound got %v", err)
	}
	return nil
}

func deleteSnapshots(ss core.SnapshotStore) error {
	aggregateID := AggregateID()
	if err := ss.Save(context.Background(), testSnapshot(aggregateID, 10)); err != nil {
		return err
	}
	if err := ss.Delete(context.Background(), aggregateID, aggregateType); err != nil {
		return err
	}
	_, err := ss.Get(context.Background(), aggregateID, aggregateType)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		return fmt.Errorf("expected ErrSnapshotNotFound got %v", err)
	}
	return nil
}

func deleteSnapshotsBefore(ss core.SnapshotStore) error {
	aggregateID := AggregateID()
	for _, version := range []core.Version{10, 20, 30} {
		if err := ss.Save(context.Background(), testSnapshot(aggregateID, version)); err != nil {
			return err
		}
	}
	if err := ss.DeleteBefore(context.Background(), aggregateID, aggregateType, 20); err != nil {
		return err
	}
	_, err := ss.GetAtOrBefore(context.Background(), aggregateID, aggregateType, 19)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		return fmt.Errorf("expected snapshots before version 20 to be deleted, got %v", err)
	}
	snapshot, err := ss.GetAtOrBefore(context.Background(), aggregateID, aggregateType, 20)
	if err != nil {
		return err
	}
	if snapshot.Version != 20 {
		return fmt.Errorf("expected snapshot version 20 to survive retention, got %d", snapshot.Version)
	}
	return nil
}
