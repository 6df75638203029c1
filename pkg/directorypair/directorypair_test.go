package directorypair

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/helixsync/helixsync/pkg/config"
	"github.com/helixsync/helixsync/pkg/core"
)

func newPair(t *testing.T) (decrRoot, encrRoot string, passphrase []byte) {
	t.Helper()
	decrRoot = t.TempDir()
	encrRoot = t.TempDir()
	passphrase = []byte("correct horse battery staple")

	if err := Init(decrRoot, encrRoot, passphrase); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return decrRoot, encrRoot, passphrase
}

func TestInitThenOpen(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	pair, err := Open(decrRoot, encrRoot, passphrase, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pair.Close()

	if pair.DirectoryId == "" {
		t.Fatal("expected a non-empty directory id")
	}
	if _, err := os.Stat(filepath.Join(encrRoot, EncryptedHeaderFileName)); err != nil {
		t.Fatalf("expected header file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(decrRoot, DecryptedReservedDirName, DirectoryIdFileName)); err != nil {
		t.Fatalf("expected directory id file: %v", err)
	}
}

func TestWrongPassphraseCannotDecryptHeaders(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	correctPair, err := Open(decrRoot, encrRoot, passphrase, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer correctPair.Close()

	if err := os.WriteFile(filepath.Join(decrRoot, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	records, err := correctPair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges: %v", err)
	}
	if len(records) != 1 || records[0].SyncMode != core.DecryptedSide {
		t.Fatalf("expected a single decrypted-side add, got %+v", records)
	}
	if result := correctPair.TrySync(records[0]); !result.Success() {
		t.Fatalf("TrySync: %v", result.Err)
	}

	// Key derivation alone can't detect a wrong passphrase (Open succeeds
	// regardless), but a pair opened with the wrong passphrase derives
	// different key material from the same salt, so it can't decrypt the
	// header the correct pair wrote. That failure surfaces as an
	// unclassifiable (Unknown/Error) record, which core.Sort excludes
	// rather than treating it as an actionable change.
	wrongPair, err := Open(decrRoot, encrRoot, []byte("wrong passphrase"), nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wrongPair.Close()

	records, err = wrongPair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no actionable records when the header can't be decrypted, got %+v", records)
	}
}

func TestOpenRejectsDirectoryIdMismatch(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	idPath := filepath.Join(decrRoot, DecryptedReservedDirName, DirectoryIdFileName)
	if err := os.WriteFile(idPath, []byte("dir_not-the-real-id"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(decrRoot, encrRoot, passphrase, nil, nil)
	if err == nil {
		t.Fatal("expected a directory id mismatch error")
	}
}

func TestOpenRejectsMissingInit(t *testing.T) {
	decrRoot := t.TempDir()
	encrRoot := t.TempDir()

	_, err := Open(decrRoot, encrRoot, []byte("whatever"), nil, nil)
	if err == nil {
		t.Fatal("expected an error opening an uninitialized pair")
	}
}

func TestInitRejectsDoubleInit(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	if err := Init(decrRoot, encrRoot, passphrase); err == nil {
		t.Fatal("expected re-initializing an existing pair to fail")
	}
}

func TestFindChangesRoundTrip(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	pair, err := Open(decrRoot, encrRoot, passphrase, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pair.Close()

	if err := os.WriteFile(filepath.Join(decrRoot, "report.txt"), []byte("quarterly numbers"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	records, err := pair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].DecrFileName != "report.txt" || records[0].DisplayOperation != core.Add {
		t.Fatalf("unexpected record: %+v", records[0])
	}

	result := pair.TrySync(records[0])
	if !result.Success() {
		t.Fatalf("TrySync: %v", result.Err)
	}

	// A second FindChanges should now see nothing to do.
	if err := pair.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	records, err = pair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges (second pass): %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no pending records after sync, got %+v", records)
	}
}

func TestFindChangesRecursesIntoSubdirectories(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	pair, err := Open(decrRoot, encrRoot, passphrase, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pair.Close()

	if err := os.MkdirAll(filepath.Join(decrRoot, "a"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(decrRoot, "a", "b.txt"), []byte("nested"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	records, err := pair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges: %v", err)
	}

	var sawDir, sawNestedFile bool
	for _, r := range records {
		switch r.DecrFileName {
		case "a":
			sawDir = true
		case "a/b.txt":
			sawNestedFile = true
		}
	}
	if !sawDir {
		t.Fatal("expected a record for directory \"a\"")
	}
	if !sawNestedFile {
		t.Fatalf("expected a record for nested file \"a/b.txt\", got %+v", records)
	}
}

func TestFindChangesExcludesReservedDirectory(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	pair, err := Open(decrRoot, encrRoot, passphrase, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pair.Close()

	if err := os.WriteFile(filepath.Join(decrRoot, "report.txt"), []byte("quarterly numbers"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	records, err := pair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges: %v", err)
	}
	for _, r := range records {
		if r.DecrFileName == DecryptedReservedDirName || strings.HasPrefix(r.DecrFileName, DecryptedReservedDirName+"/") {
			t.Fatalf("reserved directory leaked into records: %+v", r)
		}
	}
	if len(records) != 1 || records[0].DecrFileName != "report.txt" {
		t.Fatalf("expected only report.txt, got %+v", records)
	}

	result := pair.TrySync(records[0])
	if !result.Success() {
		t.Fatalf("TrySync: %v", result.Err)
	}

	// Running again after the only real change is synced must reach
	// quiescence even though the sync log file itself was just rewritten.
	if err := pair.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	records, err = pair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges (second pass): %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected quiescence, got %+v", records)
	}
}

func TestFindChangesExcludesHeaderFile(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	pair, err := Open(decrRoot, encrRoot, passphrase, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pair.Close()

	records, err := pair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges: %v", err)
	}
	for _, r := range records {
		if r.EncrFileName == EncryptedHeaderFileName {
			t.Fatalf("header file leaked into records: %+v", r)
		}
	}
}

func TestFindChangesHonorsIgnorePatterns(t *testing.T) {
	decrRoot, encrRoot, passphrase := newPair(t)

	cfg := config.Default()
	cfg.Ignore.Paths = []string{"*.tmp"}

	pair, err := Open(decrRoot, encrRoot, passphrase, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pair.Close()

	if err := os.WriteFile(filepath.Join(decrRoot, "keep.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(decrRoot, "scratch.tmp"), []byte("scratch"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	records, err := pair.FindChanges()
	if err != nil {
		t.Fatalf("FindChanges: %v", err)
	}
	if len(records) != 1 || records[0].DecrFileName != "keep.txt" {
		t.Fatalf("expected only keep.txt, got %+v", records)
	}
}

func TestProbeCaseInsensitiveDoesNotError(t *testing.T) {
	dir := t.TempDir()
	if _, err := probeCaseInsensitive(dir); err != nil {
		t.Fatalf("probeCaseInsensitive: %v", err)
	}
}

func TestInvertCase(t *testing.T) {
	if got := invertCase("AbC-123"); got != "aBc-123" {
		t.Fatalf("invertCase: got %q", got)
	}
}
