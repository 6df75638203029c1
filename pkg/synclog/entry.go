// Package synclog implements the append-only Sync Log Store described by
// spec component C2: the last-known synced state per decrypted path,
// persisted on the decrypted side and rewritten atomically by Compact.
package synclog

import (
	"time"

	"github.com/helixsync/helixsync/pkg/fsoverlay"
)

// Entry is a single, immutable-once-appended record of a synced file's
// state on both sides. EntryType == fsoverlay.Removed encodes a tombstone:
// DecrFileName and EncrFileName then carry the names that used to exist
// (spec §3 invariant #4).
type Entry struct {
	EntryType       fsoverlay.Kind
	DecrFileName    string
	DecrModifiedUTC time.Time
	EncrFileName    string
	EncrModifiedUTC time.Time
}

// IsRemoved reports whether the entry is a tombstone.
func (e *Entry) IsRemoved() bool {
	return e != nil && e.EntryType == fsoverlay.Removed
}

// Equal reports whether two entries carry identical field values at
// second-level precision, which is the resolution the encrypted side
// stores mtimes at (spec §3 invariant #6).
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.EntryType == other.EntryType &&
		e.DecrFileName == other.DecrFileName &&
		e.DecrModifiedUTC.Truncate(time.Second).Equal(other.DecrModifiedUTC.Truncate(time.Second)) &&
		e.EncrFileName == other.EncrFileName &&
		e.EncrModifiedUTC.Truncate(time.Second).Equal(other.EncrModifiedUTC.Truncate(time.Second))
}
