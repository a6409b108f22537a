package export

import (
	"fmt"
	"slices"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/fullcache"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

const secondsPerDay = 86400

// Decision is the outcome of Decide.
type Decision struct {
	Full   bool
	Reason string
}

// Decide chooses between a full and an incremental export of the newest
// snapshot. It does not touch the filesystem and has no side effects.
//
// The rules are applied in order, a later rule overriding an earlier one:
//
//  1. incremental by default
//  2. --full forces a full export
//  3. --incremental forces an incremental export
//  4. a single snapshot always exports in full
//  5. otherwise a missing cache record exports in full
//  6. otherwise, unless --incremental was given, a last full export older
//     than fullEveryXDays exports in full
func Decide(snapshots []zfs.Snapshot, last fullcache.Record, hasLast bool, forceFull, forceIncremental bool, fullEveryXDays int, now time.Time) Decision {
	d := Decision{Full: false, Reason: "incremental export by default"}

	if forceFull {
		d = Decision{Full: true, Reason: "full export due to override via --full"}
	}
	if forceIncremental {
		d = Decision{Full: false, Reason: "incremental export due to override via --incremental"}
	}

	if len(snapshots) == 1 {
		return Decision{Full: true, Reason: "full export since there's only a single snapshot"}
	}
	if !hasLast {
		return Decision{Full: true, Reason: "full export due to no known full export"}
	}

	age := now.Sub(last.Creation).Seconds()
	if !forceIncremental && age > float64(fullEveryXDays*secondsPerDay) {
		return Decision{
			Full:   true,
			Reason: fmt.Sprintf("full export since last full backup is %.1f days old and larger than threshold days of %d", age/secondsPerDay, fullEveryXDays),
		}
	}
	return d
}

// MissingBaseSnapshotError is returned when an incremental export would be
// based on a snapshot that no longer exists.
type MissingBaseSnapshotError struct {
	Base string
}

func (e *MissingBaseSnapshotError) Error() string {
	return fmt.Sprintf("last full snapshot deleted? looked for %s but couldn't find it.", e.Base)
}

// BaseSnapshot returns the base of an incremental export: the snapshot of the
// last full export. It fails if that snapshot is not among the live snapshots.
func BaseSnapshot(snapshots []zfs.Snapshot, last fullcache.Record) (string, error) {
	found := slices.ContainsFunc(snapshots, func(s zfs.Snapshot) bool { return s.Name == last.Snapshot })
	if !found {
		return "", &MissingBaseSnapshotError{Base: last.Snapshot}
	}
	return last.Snapshot, nil
}
