// Package core implements the Three-Way Matcher (C3), Change Classifier
// (C4), and Dependency Sorter (C5) from the specification: joining the
// decrypted filesystem, the encrypted filesystem, and the sync log into
// PreSync records, classifying each record's divergence, and producing a
// legal application order for the non-Unchanged records.
package core

import (
	"time"

	"github.com/helixsync/helixsync/pkg/fsoverlay"
	"github.com/helixsync/helixsync/pkg/synclog"
)

// SyncMode classifies the kind of divergence (if any) a PreSync exhibits.
type SyncMode uint8

const (
	// Unchanged means neither side has changed since the log entry.
	Unchanged SyncMode = iota
	// Match means both sides changed but agree with each other.
	Match
	// Conflict means both sides changed and disagree.
	Conflict
	// EncryptedSide means only the encrypted side changed; propagate
	// encrypted -> decrypted.
	EncryptedSide
	// DecryptedSide means only the decrypted side changed; propagate
	// decrypted -> encrypted.
	DecryptedSide
	// Unknown means the record's state is inconsistent and can't be
	// classified; it surfaces as DisplayOperation = Error.
	Unknown
)

// String returns a human-readable name for the mode.
func (m SyncMode) String() string {
	switch m {
	case Unchanged:
		return "unchanged"
	case Match:
		return "match"
	case Conflict:
		return "conflict"
	case EncryptedSide:
		return "encrypted-side"
	case DecryptedSide:
		return "decrypted-side"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// DisplayOperation describes the user-facing effect of a non-Unchanged
// PreSync.
type DisplayOperation uint8

const (
	// None indicates no visible operation (Match or Unchanged).
	None DisplayOperation = iota
	// Add indicates new content will be created on the lagging side.
	Add
	// Remove indicates content will be deleted on the lagging side.
	Remove
	// Change indicates existing content will be overwritten.
	Change
	// Purge indicates a stale encrypted blob will be reconciled against a
	// log tombstone with no disk I/O.
	Purge
	// Error indicates a record with no operation to apply: an inconsistent
	// or unclassifiable (Unknown) record, or a Conflict.
	Error
)

// String returns a human-readable name for the operation.
func (d DisplayOperation) String() string {
	switch d {
	case None:
		return "none"
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Change:
		return "change"
	case Purge:
		return "purge"
	case Error:
		return "error"
	default:
		return "invalid"
	}
}

// EncrHeader is the plaintext metadata recovered by decrypting only the
// header of an encrypted blob.
type EncrHeader struct {
	// FileName is the plaintext relative path stored in the header.
	FileName string
	// EntryType is the kind of entry the header describes.
	EntryType fsoverlay.Kind
	// LastWriteTimeUTC is the entry's recorded last-write time.
	LastWriteTimeUTC time.Time
	// Length is the entry's plaintext length.
	Length int64
}

// PreSync is the working record assembled for a single logical path during
// one FindChanges invocation: the decrypted filesystem entry, the
// encrypted filesystem entry, the decrypted header recovered from the
// encrypted blob, and the last-known synced state from the log.
type PreSync struct {
	// DecrFileName is the decrypted relative path, if known.
	DecrFileName string
	// EncrFileName is the encrypted (ciphertext) filename. Always the
	// deterministic encoding of DecrFileName when DecrFileName is known
	// (spec §3 invariant #3).
	EncrFileName string

	// LogEntry is the most recent sync log entry for DecrFileName, if any.
	LogEntry *synclog.Entry
	// DecrInfo is the decrypted-side filesystem entry, if any.
	DecrInfo *fsoverlay.Entry
	// EncrInfo is the encrypted-side filesystem entry, if any.
	EncrInfo *fsoverlay.Entry
	// EncrHeader is the header recovered by decrypting EncrInfo, if
	// EncrInfo is present and header decryption succeeded.
	EncrHeader *EncrHeader

	// SyncMode is the classification result.
	SyncMode SyncMode
	// DisplayOperation is the user-facing operation implied by SyncMode.
	DisplayOperation DisplayOperation
	// DisplayEntryType is the kind to report for this operation (the kind
	// of whichever side is "winning").
	DisplayEntryType fsoverlay.Kind
	// DisplayFileLength is the length to report for this operation.
	DisplayFileLength int64

	// headerErr records a failure to decrypt EncrInfo's header, which
	// forces SyncMode = Unknown / DisplayOperation = Error regardless of
	// what the rest of the classification would otherwise produce.
	headerErr error
}

// IsChange reports whether the record requires an operation (i.e. its
// SyncMode is neither Unchanged nor Match).
func (p *PreSync) IsChange() bool {
	return p.SyncMode != Unchanged && p.SyncMode != Match
}
