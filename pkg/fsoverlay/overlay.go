package fsoverlay

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/helixsync/helixsync/pkg/errorkind"
	"github.com/helixsync/helixsync/pkg/logging"
	"github.com/helixsync/helixsync/pkg/upath"
)

// ErrPathOutsideRoot indicates that a path supplied to the overlay does not
// lie beneath its root.
var ErrPathOutsideRoot = fmt.Errorf("path outside overlay root")

// ListMode controls how deep GetEntries loads before returning.
type ListMode uint8

const (
	// TopOnly loads only the immediate children of a directory.
	TopOnly ListMode = iota
	// All recursively loads the full subtree.
	All
)

// Overlay is a cached, path-indexed view of a directory tree rooted at
// RootPath. When WhatIf is true, no mutator touches disk; the in-memory
// tree is updated as if the mutation had succeeded.
type Overlay struct {
	// RootPath is the absolute filesystem path this overlay is rooted at.
	RootPath string
	// WhatIf indicates dry-run mode.
	WhatIf bool
	// CaseInsensitive controls child-name comparison, reflecting the host
	// filesystem. It is fixed at construction and never mutated afterward.
	CaseInsensitive bool

	root   *Entry
	logger *logging.Logger
}

// NewRoot creates an Overlay rooted at path. The root itself must exist and
// be a directory, in what-if mode as well as in live mode.
func NewRoot(path string, whatIf, caseInsensitive bool, logger *logging.Logger) (*Overlay, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("unable to resolve root path: %w", err))
	}

	o := &Overlay{
		RootPath:        filepath.ToSlash(absolute),
		WhatIf:          whatIf,
		CaseInsensitive: caseInsensitive,
		logger:          logger,
	}

	info, err := os.Stat(absolute)
	if err != nil {
		return nil, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("unable to stat root: %w", err))
	} else if !info.IsDir() {
		return nil, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("root is not a directory"))
	}

	o.root = &Entry{Kind: Directory, ModTime: info.ModTime()}
	return o, nil
}

// foldName returns a name normalized for use as a children map key per the
// overlay's case-sensitivity rule.
func (o *Overlay) foldName(name string) string {
	return upath.Fold(name, o.CaseInsensitive)
}

// normalize converts an externally supplied path (absolute under the root,
// or already relative in universal form) to a root-relative universal path.
func (o *Overlay) normalize(path string) (string, error) {
	slashed := filepath.ToSlash(path)
	if filepath.IsAbs(path) || strings.HasPrefix(slashed, "/") {
		if slashed == o.RootPath {
			return "", nil
		}
		if !strings.HasPrefix(slashed, o.RootPath+"/") {
			return "", errorkind.Wrap(errorkind.Structural, ErrPathOutsideRoot)
		}
		return strings.TrimPrefix(slashed, o.RootPath+"/"), nil
	}
	return strings.Trim(slashed, "/"), nil
}

// absolute converts a root-relative universal path to an absolute
// filesystem path.
func (o *Overlay) absolute(relativePath string) string {
	if relativePath == "" {
		return filepath.FromSlash(o.RootPath)
	}
	return filepath.FromSlash(o.RootPath + "/" + relativePath)
}

// AbsolutePath converts a root-relative universal path to an absolute
// filesystem path, for callers (such as the sync executor) that need to
// hand a real path to an out-of-overlay collaborator like a Codec.
func (o *Overlay) AbsolutePath(relativePath string) string {
	return o.absolute(relativePath)
}

// ensureLoaded populates dir.children with a one-level listing if it isn't
// already loaded.
func (o *Overlay) ensureLoaded(dir *Entry) error {
	if dir.isLoaded {
		return nil
	}

	entries, err := os.ReadDir(o.absolute(dir.RelativePath))
	if err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to list directory %q: %w", dir.RelativePath, err))
	}

	children := make(map[string]*Entry, len(entries))
	for _, de := range entries {
		child, err := o.statChild(dir, de)
		if err != nil {
			return err
		}
		children[o.foldName(child.Name())] = child
	}

	dir.children = children
	dir.isLoaded = true
	return nil
}

// statChild builds an Entry for a directory child from a fs.DirEntry.
func (o *Overlay) statChild(parent *Entry, de fs.DirEntry) (*Entry, error) {
	info, err := de.Info()
	if err != nil {
		return nil, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to stat %q: %w", de.Name(), err))
	}
	kind := File
	if info.IsDir() {
		kind = Directory
	}
	return &Entry{
		RelativePath: upath.Join(parent.RelativePath, de.Name()),
		Kind:         kind,
		ModTime:      info.ModTime(),
		Length:       info.Size(),
		parent:       parent,
	}, nil
}

// ensureLoadedDeep recursively populates dir and every descendant
// directory.
func (o *Overlay) ensureLoadedDeep(dir *Entry) error {
	if dir.isLoadedDeep {
		return nil
	}
	if err := o.ensureLoaded(dir); err != nil {
		return err
	}
	for _, child := range dir.children {
		if child.Kind == Directory {
			if err := o.ensureLoadedDeep(child); err != nil {
				return err
			}
		}
	}
	dir.isLoadedDeep = true
	return nil
}

// TryGetEntry returns the entry at path, or nil if it doesn't exist. The
// path may be absolute (under the root) or relative in universal form.
func (o *Overlay) TryGetEntry(path string) (*Entry, error) {
	relative, err := o.normalize(path)
	if err != nil {
		return nil, err
	}
	if relative == "" {
		return o.root, nil
	}

	current := o.root
	for _, component := range strings.Split(relative, "/") {
		if current.Kind != Directory {
			return nil, nil
		}
		if err := o.ensureLoaded(current); err != nil {
			return nil, err
		}
		child, ok := current.children[o.foldName(component)]
		if !ok {
			return nil, nil
		}
		current = child
	}
	return current, nil
}

// GetEntries returns dir's children (loading them if necessary). If mode is
// All, the entire subtree is loaded first.
func (o *Overlay) GetEntries(dir *Entry, mode ListMode) ([]*Entry, error) {
	if dir == nil {
		dir = o.root
	}
	if dir.Kind != Directory {
		return nil, nil
	}
	if mode == All {
		if err := o.ensureLoadedDeep(dir); err != nil {
			return nil, err
		}
	} else if err := o.ensureLoaded(dir); err != nil {
		return nil, err
	}

	result := make([]*Entry, 0, len(dir.children))
	for _, child := range dir.children {
		result = append(result, child)
	}
	return result, nil
}

// RefreshEntry re-stats the file or directory at relativePath and replaces
// or updates the cached entry, maintaining invariant #1 (no duplicate
// names in a directory) by always overwriting any existing child rather
// than appending alongside it.
func (o *Overlay) RefreshEntry(relativePath string) (*Entry, error) {
	if relativePath == "" {
		info, err := os.Stat(o.absolute(""))
		if err != nil {
			return nil, errorkind.Wrap(errorkind.FilesystemTransient, err)
		}
		o.root.ModTime = info.ModTime()
		return o.root, nil
	}

	parentPath := upath.Dir(relativePath)
	parent, err := o.TryGetEntry(parentPath)
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.Kind != Directory {
		return nil, errorkind.Wrap(errorkind.Structural, fmt.Errorf("refresh: parent of %q not found", relativePath))
	}
	if err := o.ensureLoaded(parent); err != nil {
		return nil, err
	}

	name := upath.Base(relativePath)
	key := o.foldName(name)

	info, err := os.Stat(o.absolute(relativePath))
	if os.IsNotExist(err) {
		delete(parent.children, key)
		return nil, nil
	} else if err != nil {
		return nil, errorkind.Wrap(errorkind.FilesystemTransient, err)
	}

	kind := File
	if info.IsDir() {
		kind = Directory
	}
	updated := &Entry{
		RelativePath: relativePath,
		Kind:         kind,
		ModTime:      info.ModTime(),
		Length:       info.Size(),
		parent:       parent,
	}
	parent.children[key] = updated
	return updated, nil
}

// MoveFile moves the file represented by src to destPath, returning the new
// entry. It fails if the destination already exists or its parent
// directory is missing.
func (o *Overlay) MoveFile(src *Entry, destPath string) (*Entry, error) {
	destRelative, err := o.normalize(destPath)
	if err != nil {
		return nil, err
	}

	existing, err := o.TryGetEntry(destRelative)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errorkind.Wrap(errorkind.Structural, fmt.Errorf("move: destination %q already exists", destRelative))
	}

	destParentPath := upath.Dir(destRelative)
	destParent, err := o.TryGetEntry(destParentPath)
	if err != nil {
		return nil, err
	}
	if destParent == nil || destParent.Kind != Directory {
		return nil, errorkind.Wrap(errorkind.Structural, fmt.Errorf("move: destination directory %q missing", destParentPath))
	}

	if !o.WhatIf {
		if err := os.Rename(o.absolute(src.RelativePath), o.absolute(destRelative)); err != nil {
			return nil, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to rename: %w", err))
		}
	}

	srcParent := src.parent
	if srcParent != nil && srcParent.children != nil {
		delete(srcParent.children, o.foldName(src.Name()))
	}

	moved := &Entry{
		RelativePath: destRelative,
		Kind:         src.Kind,
		ModTime:      src.ModTime,
		Length:       src.Length,
		parent:       destParent,
	}
	if err := o.ensureLoaded(destParent); err != nil {
		return nil, err
	}
	destParent.children[o.foldName(moved.Name())] = moved
	return moved, nil
}

// DeleteFile removes a file entry.
func (o *Overlay) DeleteFile(entry *Entry) error {
	if entry.Kind == Directory {
		return errorkind.Wrap(errorkind.Structural, fmt.Errorf("delete file: %q is a directory", entry.RelativePath))
	}
	if !o.WhatIf {
		if err := os.Remove(o.absolute(entry.RelativePath)); err != nil && !os.IsNotExist(err) {
			return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to remove file: %w", err))
		}
	}
	o.detach(entry)
	return nil
}

// DeleteDirectory removes a directory entry. If recursive is false, the
// operation fails when the directory is non-empty.
func (o *Overlay) DeleteDirectory(entry *Entry, recursive bool) error {
	if entry.Kind != Directory {
		return errorkind.Wrap(errorkind.Structural, fmt.Errorf("delete directory: %q is not a directory", entry.RelativePath))
	}
	if err := o.ensureLoaded(entry); err != nil {
		return err
	}
	if !recursive && len(entry.children) > 0 {
		return errorkind.Wrap(errorkind.Structural, fmt.Errorf("delete directory: %q is not empty", entry.RelativePath))
	}

	if !o.WhatIf {
		var err error
		if recursive {
			err = os.RemoveAll(o.absolute(entry.RelativePath))
		} else {
			err = os.Remove(o.absolute(entry.RelativePath))
		}
		if err != nil && !os.IsNotExist(err) {
			return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to remove directory: %w", err))
		}
	}
	o.detach(entry)
	return nil
}

// detach removes entry from its parent's children map.
func (o *Overlay) detach(entry *Entry) {
	if entry.parent != nil && entry.parent.children != nil {
		delete(entry.parent.children, o.foldName(entry.Name()))
	}
}

// WhatIfAddFile inserts a ghost file entry with the given length and the
// current time as its last-write time, without touching disk. It is valid
// in both what-if and live overlays, but is intended primarily for what-if
// planning; in a live overlay a subsequent RefreshEntry will reconcile it
// with whatever the executor actually wrote.
func (o *Overlay) WhatIfAddFile(path string, length int64) (*Entry, error) {
	relative, err := o.normalize(path)
	if err != nil {
		return nil, err
	}

	parentPath := upath.Dir(relative)
	parent, err := o.TryGetEntry(parentPath)
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.Kind != Directory {
		return nil, errorkind.Wrap(errorkind.Structural, fmt.Errorf("what-if add: parent directory %q missing", parentPath))
	}
	if err := o.ensureLoaded(parent); err != nil {
		return nil, err
	}

	entry := &Entry{
		RelativePath: relative,
		Kind:         File,
		ModTime:      time.Now(),
		Length:       length,
		parent:       parent,
	}
	parent.children[o.foldName(entry.Name())] = entry
	return entry, nil
}

// WhatIfAddDirectory inserts a ghost directory entry without touching disk.
func (o *Overlay) WhatIfAddDirectory(path string) (*Entry, error) {
	relative, err := o.normalize(path)
	if err != nil {
		return nil, err
	}

	parentPath := upath.Dir(relative)
	parent, err := o.TryGetEntry(parentPath)
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.Kind != Directory {
		return nil, errorkind.Wrap(errorkind.Structural, fmt.Errorf("what-if add: parent directory %q missing", parentPath))
	}
	if err := o.ensureLoaded(parent); err != nil {
		return nil, err
	}

	entry := &Entry{
		RelativePath: relative,
		Kind:         Directory,
		ModTime:      time.Now(),
		parent:       parent,
		isLoaded:     true,
		isLoadedDeep: true,
		children:     make(map[string]*Entry),
	}
	parent.children[o.foldName(entry.Name())] = entry
	return entry, nil
}

// Reset discards all cached children, reverting every directory's
// isLoaded/isLoadedDeep flags to false. It does not re-read anything
// eagerly; subsequent accessors will lazily reload.
func (o *Overlay) Reset() {
	o.root = &Entry{Kind: Directory}
}
