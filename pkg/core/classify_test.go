package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/helixsync/helixsync/pkg/fsoverlay"
	"github.com/helixsync/helixsync/pkg/synclog"
)

type fakeCodec struct {
	headers map[string]EncrHeader
	failOn  map[string]bool
}

func (c *fakeCodec) EncryptFile(string, string, []byte, EncryptOptions) (FileEntry, error) {
	return FileEntry{}, fmt.Errorf("not implemented")
}

func (c *fakeCodec) DecryptFile(string, string, []byte) error {
	return fmt.Errorf("not implemented")
}

func (c *fakeCodec) DecryptHeader(encrPath string, _ []byte) (EncrHeader, error) {
	if c.failOn[encrPath] {
		return EncrHeader{}, fmt.Errorf("corrupt header")
	}
	header, ok := c.headers[encrPath]
	if !ok {
		return EncrHeader{}, fmt.Errorf("no such header: %s", encrPath)
	}
	return header, nil
}

func TestClassifyUnchanged(t *testing.T) {
	now := time.Now()
	p := &PreSync{
		DecrFileName: "a.txt",
		EncrFileName: "enc_a.txt",
		LogEntry: &synclog.Entry{
			EntryType:       fsoverlay.File,
			DecrFileName:    "a.txt",
			DecrModifiedUTC: now,
			EncrFileName:    "enc_a.txt",
			EncrModifiedUTC: now,
		},
		DecrInfo: fsEntry("a.txt", fsoverlay.File, now),
		EncrInfo: fsEntry("enc_a.txt", fsoverlay.File, now),
	}

	codec := &fakeCodec{headers: map[string]EncrHeader{
		"enc_a.txt": {FileName: "a.txt", EntryType: fsoverlay.File, LastWriteTimeUTC: now, Length: 0},
	}}

	if err := ClassifyAll([]*PreSync{p}, codec, nil, fakeNameEncoder{}); err != nil {
		t.Fatalf("ClassifyAll: %v", err)
	}
	if p.SyncMode != Unchanged {
		t.Fatalf("expected Unchanged, got %v", p.SyncMode)
	}
	if p.DisplayOperation != None {
		t.Fatalf("expected None, got %v", p.DisplayOperation)
	}
}

func TestClassifyDecryptedSideAdd(t *testing.T) {
	now := time.Now()
	p := &PreSync{
		DecrFileName: "new.txt",
		EncrFileName: "enc_new.txt",
		DecrInfo:     fsEntry("new.txt", fsoverlay.File, now),
	}

	codec := &fakeCodec{headers: map[string]EncrHeader{}}
	if err := ClassifyAll([]*PreSync{p}, codec, nil, fakeNameEncoder{}); err != nil {
		t.Fatalf("ClassifyAll: %v", err)
	}
	if p.SyncMode != DecryptedSide {
		t.Fatalf("expected DecryptedSide, got %v", p.SyncMode)
	}
	if p.DisplayOperation != Add {
		t.Fatalf("expected Add, got %v", p.DisplayOperation)
	}
}

func TestClassifyEncryptedSideAdd(t *testing.T) {
	now := time.Now()
	p := &PreSync{
		EncrFileName: "enc_new.txt",
		EncrInfo:     fsEntry("enc_new.txt", fsoverlay.File, now),
	}

	codec := &fakeCodec{headers: map[string]EncrHeader{
		"enc_new.txt": {FileName: "new.txt", EntryType: fsoverlay.File, LastWriteTimeUTC: now, Length: 42},
	}}
	if err := ClassifyAll([]*PreSync{p}, codec, nil, fakeNameEncoder{}); err != nil {
		t.Fatalf("ClassifyAll: %v", err)
	}
	if p.SyncMode != EncryptedSide {
		t.Fatalf("expected EncryptedSide, got %v", p.SyncMode)
	}
	if p.DisplayOperation != Add {
		t.Fatalf("expected Add, got %v", p.DisplayOperation)
	}
	if p.DecrFileName != "new.txt" {
		t.Fatalf("expected name round-trip to backfill DecrFileName, got %q", p.DecrFileName)
	}
}

func TestClassifyConflict(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)
	p := &PreSync{
		DecrFileName: "a.txt",
		EncrFileName: "enc_a.txt",
		LogEntry: &synclog.Entry{
			EntryType:       fsoverlay.File,
			DecrFileName:    "a.txt",
			DecrModifiedUTC: now,
			EncrFileName:    "enc_a.txt",
			EncrModifiedUTC: now,
		},
		DecrInfo: fsEntry("a.txt", fsoverlay.File, later),
		EncrInfo: fsEntry("enc_a.txt", fsoverlay.File, later.Add(time.Minute)),
	}

	codec := &fakeCodec{headers: map[string]EncrHeader{
		"enc_a.txt": {FileName: "a.txt", EntryType: fsoverlay.File, LastWriteTimeUTC: later.Add(time.Minute), Length: 10},
	}}
	if err := ClassifyAll([]*PreSync{p}, codec, nil, fakeNameEncoder{}); err != nil {
		t.Fatalf("ClassifyAll: %v", err)
	}
	if p.SyncMode != Conflict {
		t.Fatalf("expected Conflict, got %v", p.SyncMode)
	}
}

func TestClassifyHeaderDecryptionFailureIsUnknown(t *testing.T) {
	p := &PreSync{
		EncrFileName: "enc_bad",
		EncrInfo:     fsEntry("enc_bad", fsoverlay.File, time.Now()),
	}
	codec := &fakeCodec{failOn: map[string]bool{"enc_bad": true}}
	if err := ClassifyAll([]*PreSync{p}, codec, nil, fakeNameEncoder{}); err != nil {
		t.Fatalf("ClassifyAll: %v", err)
	}
	if p.SyncMode != Unknown || p.DisplayOperation != Error {
		t.Fatalf("expected Unknown/Error, got %v/%v", p.SyncMode, p.DisplayOperation)
	}
}

func TestClassifyOrphanLogEntryIsError(t *testing.T) {
	now := time.Now()
	p := &PreSync{
		DecrFileName: "a.txt",
		EncrFileName: "enc_a.txt",
		LogEntry: &synclog.Entry{
			EntryType:       fsoverlay.File,
			DecrFileName:    "a.txt",
			DecrModifiedUTC: now,
			EncrFileName:    "enc_a.txt",
			EncrModifiedUTC: now,
		},
		DecrInfo: fsEntry("a.txt", fsoverlay.File, now),
	}
	codec := &fakeCodec{headers: map[string]EncrHeader{}}
	if err := ClassifyAll([]*PreSync{p}, codec, nil, fakeNameEncoder{}); err != nil {
		t.Fatalf("ClassifyAll: %v", err)
	}
	if p.SyncMode != Unknown || p.DisplayOperation != Error {
		t.Fatalf("expected orphan to surface as Unknown/Error, got %v/%v", p.SyncMode, p.DisplayOperation)
	}
}

func TestClassifyPurge(t *testing.T) {
	now := time.Now()
	p := &PreSync{
		DecrFileName: "gone.txt",
		EncrFileName: "enc_gone.txt",
		LogEntry: &synclog.Entry{
			EntryType:       fsoverlay.Removed,
			DecrFileName:    "gone.txt",
			DecrModifiedUTC: now,
			EncrFileName:    "enc_gone.txt",
			EncrModifiedUTC: now,
		},
		EncrInfo: fsEntry("enc_gone.txt", fsoverlay.File, now.Add(time.Minute)),
	}
	codec := &fakeCodec{headers: map[string]EncrHeader{
		"enc_gone.txt": {FileName: "gone.txt", EntryType: fsoverlay.Removed, LastWriteTimeUTC: now.Add(time.Minute)},
	}}
	if err := ClassifyAll([]*PreSync{p}, codec, nil, fakeNameEncoder{}); err != nil {
		t.Fatalf("ClassifyAll: %v", err)
	}
	if p.SyncMode != EncryptedSide {
		t.Fatalf("expected EncryptedSide, got %v", p.SyncMode)
	}
	if p.DisplayOperation != Purge {
		t.Fatalf("expected Purge, got %v", p.DisplayOperation)
	}
}
