package fsoverlay

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestOverlay(t *testing.T, whatIf bool) (*Overlay, string) {
	t.Helper()
	root := t.TempDir()
	o, err := NewRoot(root, whatIf, false, nil)
	if err != nil {
		t.Fatalf("unable to create overlay: %v", err)
	}
	return o, root
}

func TestTryGetEntryFile(t *testing.T) {
	o, root := newTestOverlay(t, false)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o600); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}

	entry, err := o.TryGetEntry("a.txt")
	if err != nil {
		t.Fatalf("TryGetEntry failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if entry.Kind != File || entry.Length != 5 {
		t.Errorf("unexpected entry: kind=%v length=%d", entry.Kind, entry.Length)
	}
}

func TestTryGetEntryMissing(t *testing.T) {
	o, _ := newTestOverlay(t, false)
	entry, err := o.TryGetEntry("missing.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry, got %+v", entry)
	}
}

func TestTryGetEntryOutsideRoot(t *testing.T) {
	o, _ := newTestOverlay(t, false)
	if _, err := o.TryGetEntry("/definitely/not/under/root"); err == nil {
		t.Error("expected error for path outside root")
	}
}

func TestGetEntriesRecursive(t *testing.T) {
	o, root := newTestOverlay(t, false)
	if err := os.MkdirAll(filepath.Join(root, "a", "b"), 0o700); err != nil {
		t.Fatalf("unable to create fixture dirs: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "b", "c.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}

	top, err := o.GetEntries(nil, TopOnly)
	if err != nil {
		t.Fatalf("GetEntries(TopOnly) failed: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("expected 1 top-level entry, got %d", len(top))
	}

	a, err := o.TryGetEntry("a")
	if err != nil || a == nil {
		t.Fatalf("expected to find 'a': %v", err)
	}
	if _, err := o.GetEntries(a, All); err != nil {
		t.Fatalf("GetEntries(All) failed: %v", err)
	}
	if !a.isLoadedDeep {
		t.Error("expected deep load to mark isLoadedDeep")
	}

	nested, err := o.TryGetEntry("a/b/c.txt")
	if err != nil || nested == nil {
		t.Fatalf("expected nested file to be discoverable: %v", err)
	}
}

func TestWhatIfAddFileDoesNotTouchDisk(t *testing.T) {
	o, root := newTestOverlay(t, true)
	entry, err := o.WhatIfAddFile("ghost.txt", 42)
	if err != nil {
		t.Fatalf("WhatIfAddFile failed: %v", err)
	}
	if entry.Length != 42 {
		t.Errorf("expected length 42, got %d", entry.Length)
	}
	if _, err := os.Stat(filepath.Join(root, "ghost.txt")); !os.IsNotExist(err) {
		t.Error("what-if add should not create a file on disk")
	}

	found, err := o.TryGetEntry("ghost.txt")
	if err != nil || found == nil {
		t.Fatalf("expected ghost entry to be visible in overlay: %v", err)
	}
}

func TestDeleteDirectoryNonEmptyFails(t *testing.T) {
	o, root := newTestOverlay(t, false)
	if err := os.MkdirAll(filepath.Join(root, "d"), 0o700); err != nil {
		t.Fatalf("unable to create fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "d", "f.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}

	d, err := o.TryGetEntry("d")
	if err != nil || d == nil {
		t.Fatalf("expected to find 'd': %v", err)
	}
	if err := o.DeleteDirectory(d, false); err == nil {
		t.Error("expected non-recursive delete of non-empty directory to fail")
	}
	if err := o.DeleteDirectory(d, true); err != nil {
		t.Errorf("expected recursive delete to succeed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "d")); !os.IsNotExist(err) {
		t.Error("expected directory to be removed from disk")
	}
}

func TestRefreshEntryReplacesInPlace(t *testing.T) {
	o, root := newTestOverlay(t, false)
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}
	if _, err := o.TryGetEntry("f.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(path, []byte("v2-longer"), 0o600); err != nil {
		t.Fatalf("unable to rewrite fixture: %v", err)
	}
	refreshed, err := o.RefreshEntry("f.txt")
	if err != nil {
		t.Fatalf("RefreshEntry failed: %v", err)
	}
	if refreshed.Length != int64(len("v2-longer")) {
		t.Errorf("expected refreshed length, got %d", refreshed.Length)
	}

	entries, err := o.GetEntries(nil, TopOnly)
	if err != nil {
		t.Fatalf("GetEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one entry after refresh, got %d (duplicate-insert bug)", len(entries))
	}
}

func TestResetDiscardsCache(t *testing.T) {
	o, root := newTestOverlay(t, false)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}
	if _, err := o.GetEntries(nil, TopOnly); err != nil {
		t.Fatalf("GetEntries failed: %v", err)
	}
	if !o.root.isLoaded {
		t.Fatal("expected root to be loaded before reset")
	}
	o.Reset()
	if o.root.isLoaded {
		t.Error("expected reset to clear isLoaded")
	}
}
