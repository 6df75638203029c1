// Package errorkind classifies errors raised by the reconciliation engine
// into the taxonomy described by the specification: Configuration,
// Structural, Integrity, FilesystemTransient, Conflict, CaseOnlyConflict,
// and Unknown. Classification drives whether a failure is fatal to the run
// or merely fatal to a single item.
package errorkind

import "errors"

// Kind identifies the taxonomy bucket an error belongs to.
type Kind uint8

const (
	// Unclassified is returned for errors that carry no kind annotation.
	// Callers should generally treat these as fatal, since they indicate a
	// code path that hasn't been taxonomized.
	Unclassified Kind = iota
	// Configuration indicates a fatal setup problem: missing or
	// uninitialized directories, a wrong passphrase, or a DirectoryId
	// mismatch.
	Configuration
	// Structural indicates a fatal single-operation problem: a path outside
	// the root, a non-empty directory deleted non-recursively, or a move
	// whose destination already exists.
	Structural
	// Integrity indicates likely corruption or a logic bug: a header that
	// fails to decrypt, a name that doesn't round-trip, or a cyclic
	// dependency in the sort.
	Integrity
	// FilesystemTransient indicates a per-item, possibly-retryable disk
	// error: permission denied, I/O error, or not-found after enumeration.
	FilesystemTransient
	// Conflict indicates sync_mode = Conflict: not an error so much as an
	// item requiring user resolution.
	Conflict
	// CaseOnlyConflict indicates the decrypted side already holds an entry
	// whose path differs only in case from the one being added.
	CaseOnlyConflict
	// Unknown indicates sync_mode = Unknown or display_operation = Error.
	Unknown
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Structural:
		return "structural"
	case Integrity:
		return "integrity"
	case FilesystemTransient:
		return "filesystem-transient"
	case Conflict:
		return "conflict"
	case CaseOnlyConflict:
		return "case-only-conflict"
	case Unknown:
		return "unknown"
	default:
		return "unclassified"
	}
}

// Fatal reports whether an error of this kind should abort the entire run
// rather than just the current item, per spec §7's propagation policy.
func (k Kind) Fatal() bool {
	return k == Configuration || k == Integrity
}

// kindError pairs an error with its taxonomy kind.
type kindError struct {
	kind Kind
	err  error
}

// Error implements the error interface.
func (e *kindError) Error() string { return e.err.Error() }

// Unwrap allows errors.Is/errors.As to see through the classification.
func (e *kindError) Unwrap() error { return e.err }

// Wrap annotates err with a taxonomy kind. If err is nil, Wrap returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf extracts the taxonomy kind from an error produced by Wrap, walking
// the unwrap chain. It returns Unclassified if no kindError is found.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unclassified
}
