package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/helixsync/helixsync/pkg/fsoverlay"
	"github.com/helixsync/helixsync/pkg/synclog"
)

type fakeNameEncoder struct{}

func (fakeNameEncoder) Encode(decrRelativePath string) (string, error) {
	return "enc_" + decrRelativePath, nil
}

type failingNameEncoder struct{}

func (failingNameEncoder) Encode(string) (string, error) {
	return "", fmt.Errorf("boom")
}

func fsEntry(path string, kind fsoverlay.Kind, modTime time.Time) *fsoverlay.Entry {
	return &fsoverlay.Entry{RelativePath: path, Kind: kind, ModTime: modTime}
}

func TestMatchDecrOnlyNewFile(t *testing.T) {
	now := time.Now()
	decr := []*fsoverlay.Entry{fsEntry("a.txt", fsoverlay.File, now)}
	log, err := synclog.Open(t.TempDir() + "/log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	records, err := Match(decr, nil, log, fakeNameEncoder{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.DecrFileName != "a.txt" || r.EncrFileName != "enc_a.txt" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.DecrInfo == nil || r.EncrInfo != nil || r.LogEntry != nil {
		t.Fatalf("expected decr-only record, got %+v", r)
	}
}

func TestMatchEncrOnlyOrphan(t *testing.T) {
	encr := []*fsoverlay.Entry{fsEntry("enc_x", fsoverlay.File, time.Now())}
	log, err := synclog.Open(t.TempDir() + "/log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	records, err := Match(nil, encr, log, fakeNameEncoder{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].DecrFileName != "" || records[0].EncrInfo == nil {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestMatchJoinsAllThreeSources(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	log, err := synclog.Open(dir + "/log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log.Add(&synclog.Entry{
		EntryType:       fsoverlay.File,
		DecrFileName:    "a.txt",
		DecrModifiedUTC: now,
		EncrFileName:    "enc_a.txt",
		EncrModifiedUTC: now,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	decr := []*fsoverlay.Entry{fsEntry("a.txt", fsoverlay.File, now)}
	encr := []*fsoverlay.Entry{fsEntry("enc_a.txt", fsoverlay.File, now)}

	records, err := Match(decr, encr, log, fakeNameEncoder{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected a single joined record, got %d", len(records))
	}
	r := records[0]
	if r.LogEntry == nil || r.DecrInfo == nil || r.EncrInfo == nil {
		t.Fatalf("expected all three sources joined: %+v", r)
	}
}

func TestMatchNameEncoderFailurePropagates(t *testing.T) {
	decr := []*fsoverlay.Entry{fsEntry("a.txt", fsoverlay.File, time.Now())}
	log, err := synclog.Open(t.TempDir() + "/log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Match(decr, nil, log, failingNameEncoder{}); err == nil {
		t.Fatal("expected error from failing name encoder")
	}
}
