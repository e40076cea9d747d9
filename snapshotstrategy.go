package eventsource

import "github.com/evlund/eventsource/core"

// DefaultSnapshotThreshold is the event count used by SnapshotEvery when no
// threshold is given.
const DefaultSnapshotThreshold = 100

// SnapshotStrategy decides if a snapshot should be taken after a successful
// save. The decision is pure: it only looks at the post-append version and
// the version of the last snapshot, so a failed or retried append can never
// trigger a spurious snapshot.
type SnapshotStrategy interface {
	ShouldSnapshot(version, lastSnapshotVersion core.Version) bool
}

type snapshotEvery struct {
	threshold core.Version
}

// SnapshotEvery snapshots when at least n events are stored since the last
// snapshot. n of 0 means DefaultSnapshotThreshold.
func SnapshotEvery(n uint64) SnapshotStrategy {
	if n == 0 {
		n = DefaultSnapshotThreshold
	}
	return snapshotEvery{threshold: core.Version(n)}
}

func (s snapshotEvery) ShouldSnapshot(version, lastSnapshotVersion core.Version) bool {
	// a snapshot ahead of the version, as after a point-in-time load, is
	// never due; the unsigned subtraction would wrap
	if version <= lastSnapshotVersion {
		return false
	}
	return version-lastSnapshotVersion >= s.threshold
}

type snapshotAlways struct{}

// SnapshotAlways snapshots after every save.
func SnapshotAlways() SnapshotStrategy {
	return snapshotAlways{}
}

func (snapshotAlways) ShouldSnapshot(version, lastSnapshotVersion core.Version) bool {
	return version > lastSnapshotVersion
}

type snapshotNever struct{}

// SnapshotNever disables snapshotting.
func SnapshotNever() SnapshotStrategy {
	return snapshotNever{}
}

func (snapshotNever) ShouldSnapshot(version, lastSnapshotVersion core.Version) bool {
	return false
}

type snapshotAny struct {
	strategies []SnapshotStrategy
}

// SnapshotAny snapshots when any of the given strategies does.
func SnapshotAny(strategies ...SnapshotStrategy) SnapshotStrategy {
	return snapshotAny{strategies: strategies}
}

func (s snapshotAny) ShouldSnapshot(version, lastSnapshotVersion core.Version) bool {
	for _, strategy := range s.strategies {
		if strategy.ShouldSnapshot(version, lastSnapshotVersion) {
			return true
		}
	}
	return false
}
