// Package fsoverlay implements the cached, path-indexed view of a directory
// tree described by spec component C1 ("FS Overlay"): lazy one-level or
// recursive loading, a what-if (dry-run) mode that simulates mutations
// without touching disk, and explicit refresh of individual entries after
// an external mutation.
package fsoverlay

import "time"

// Kind identifies the variant of an Entry. Each variant carries only the
// fields that make sense for it; callers should switch on Kind rather than
// infer type from field presence.
type Kind uint8

const (
	// File is a regular file entry.
	File Kind = iota
	// Directory is a directory entry, possibly with cached Children.
	Directory
	// Removed is a tombstone: something used to exist at this path but no
	// longer does.
	Removed
	// Purged is a terminal tombstone produced only by the sync executor
	// when reconciling a stale encrypted blob against a log tombstone; it
	// is never produced by scanning a real filesystem.
	Purged
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	case Removed:
		return "removed"
	case Purged:
		return "purged"
	default:
		return "unknown"
	}
}

// Entry is a node in the cached directory tree. It corresponds to spec
// §3's FSEntry (and, when Kind == Directory, FSDirectory).
type Entry struct {
	// RelativePath is this entry's path relative to the overlay root, in
	// universal ("/"-separated) form. The root entry itself has an empty
	// RelativePath.
	RelativePath string
	// Kind is the entry's variant.
	Kind Kind
	// ModTime is the entry's last-write time. Meaningless for Removed and
	// Purged.
	ModTime time.Time
	// Length is the entry's size in bytes. Zero for Removed and Purged; for
	// a scanned Directory it is the size the host filesystem reports for
	// the directory itself.
	Length int64

	// parent is a navigation-only back-reference; the root Overlay (via its
	// root Entry) is the sole owner of the tree. It is never used to keep
	// anything alive past a Reset, and a Reset simply discards the whole
	// tree and rebuilds it, so there is no risk of it going stale in a way
	// that matters.
	parent *Entry
	// children holds this entry's children when Kind == Directory, keyed
	// by the case-folded (per the owning Overlay's case-sensitivity rule)
	// child name. It is nil until loaded.
	children map[string]*Entry
	// isLoaded indicates that children has been populated with (at least)
	// a one-level listing.
	isLoaded bool
	// isLoadedDeep indicates that children, and every descendant
	// directory's children, have been populated.
	isLoadedDeep bool
}

// Name returns the entry's own name (the final path component).
func (e *Entry) Name() string {
	if e.RelativePath == "" {
		return ""
	}
	if index := lastSlash(e.RelativePath); index != -1 {
		return e.RelativePath[index+1:]
	}
	return e.RelativePath
}

// Parent returns the entry's parent, or nil if it is the root.
func (e *Entry) Parent() *Entry {
	return e.parent
}

// IsDirectory reports whether the entry represents a directory.
func (e *Entry) IsDirectory() bool {
	return e.Kind == Directory
}

// clone produces a shallow copy of the entry, excluding children (a "slim"
// copy), matching the teacher's convention of cheap detached snapshots for
// callers that shouldn't observe subsequent cache mutation.
func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		RelativePath: e.RelativePath,
		Kind:         e.Kind,
		ModTime:      e.ModTime,
		Length:       e.Length,
	}
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
