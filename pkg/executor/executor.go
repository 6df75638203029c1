// Package executor implements the Sync Executor (spec component C6):
// applying a single classified PreSync record and recording its outcome in
// the sync log.
package executor

import (
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/helixsync/helixsync/pkg/core"
	"github.com/helixsync/helixsync/pkg/errorkind"
	"github.com/helixsync/helixsync/pkg/fsoverlay"
	"github.com/helixsync/helixsync/pkg/logging"
	"github.com/helixsync/helixsync/pkg/synclog"
	"github.com/helixsync/helixsync/pkg/upath"
)

// minimumLogAdvance is the amount by which a freshly written encrypted
// file's last-write time is pushed forward when it would otherwise land
// within one second of the previous log entry's recorded time, protecting
// against filesystem mtime quantization making a real update look
// unchanged on the next run.
const minimumLogAdvance = 1000 * time.Millisecond

// Executor applies classified PreSync records against a pair of overlays
// and a shared sync log.
type Executor struct {
	DecrOverlay *fsoverlay.Overlay
	EncrOverlay *fsoverlay.Overlay
	Log         *synclog.Log
	Codec       core.Codec
	NameEncoder core.NameEncoder
	KeyMaterial []byte
	Logger      *logging.Logger
	// MaxTrackedFileSize, if non-zero, is the largest file this executor
	// will stage in memory for encryption or decryption; larger files are
	// rejected as Structural errors rather than read.
	MaxTrackedFileSize int64
}

// tooLarge reports whether length exceeds the configured tracked file size
// ceiling.
func (e *Executor) tooLarge(length int64) bool {
	return e.MaxTrackedFileSize > 0 && length > e.MaxTrackedFileSize
}

// Result records the outcome of a single TrySync call.
type Result struct {
	// Path identifies the record that was applied, preferring the
	// decrypted name when known.
	Path string
	// Operation is the operation that was attempted.
	Operation core.DisplayOperation
	// Err is nil on success.
	Err error
}

// Success reports whether the operation completed without error.
func (r Result) Success() bool {
	return r.Err == nil
}

// TrySync applies a single PreSync record. It never panics on an expected
// file-state failure: errors are returned in the Result so the caller can
// continue with the remaining ordered items.
func (e *Executor) TrySync(p *core.PreSync) Result {
	path := p.DecrFileName
	if path == "" {
		path = p.EncrFileName
	}
	result := Result{Path: path, Operation: p.DisplayOperation}

	switch p.SyncMode {
	case core.Unchanged, core.Match:
		result.Err = e.recordCurrentState(p)
	case core.DecryptedSide:
		result.Err = e.syncDecryptedSide(p)
	case core.EncryptedSide:
		result.Err = e.syncEncryptedSide(p)
	case core.Conflict:
		result.Err = errorkind.Wrap(errorkind.Conflict, errors.Errorf("sync conflict for %q requires manual resolution", path))
	default:
		result.Err = errorkind.Wrap(errorkind.Unknown, errors.Errorf("cannot apply record %q in mode %s", path, p.SyncMode))
	}

	if e.Logger != nil {
		if result.Err != nil {
			e.Logger.Warn(result.Err)
		} else {
			e.Logger.Debugf("applied %s for %s", p.DisplayOperation, path)
		}
	}

	return result
}

// recordCurrentState handles Unchanged and Match: no file I/O beyond
// appending a fresh log entry capturing the current times on both sides.
func (e *Executor) recordCurrentState(p *core.PreSync) error {
	entry := &synclog.Entry{
		EntryType:    fsoverlay.File,
		DecrFileName: p.DecrFileName,
		EncrFileName: p.EncrFileName,
	}
	if p.DecrInfo != nil {
		entry.EntryType = p.DecrInfo.Kind
		entry.DecrModifiedUTC = p.DecrInfo.ModTime
	}
	if p.EncrInfo != nil {
		entry.EncrModifiedUTC = p.EncrInfo.ModTime
	} else if p.EncrHeader != nil {
		entry.EncrModifiedUTC = p.EncrHeader.LastWriteTimeUTC
	}
	return errors.Wrap(e.Log.Add(entry), "unable to append sync log entry")
}

// syncDecryptedSide encrypts a decrypted-side change (new file, content
// change, or deletion) to the encrypted side.
func (e *Executor) syncDecryptedSide(p *core.PreSync) error {
	if p.DecrInfo == nil {
		return e.syncDecryptedRemoval(p)
	}
	if p.DecrInfo.Kind == fsoverlay.File && e.tooLarge(p.DecrInfo.Length) {
		return errorkind.Wrap(errorkind.Structural, errors.Errorf(
			"%q is %d bytes, exceeding the maximum tracked file size", p.DecrFileName, p.DecrInfo.Length))
	}

	decrPath := e.DecrOverlay.AbsolutePath(p.DecrFileName)
	encrPath := e.EncrOverlay.AbsolutePath(p.EncrFileName)

	var previousEncrModified time.Time
	if p.LogEntry != nil {
		previousEncrModified = p.LogEntry.EncrModifiedUTC
	}

	written, err := e.Codec.EncryptFile(decrPath, encrPath, e.KeyMaterial, core.EncryptOptions{
		StoredFileName: p.DecrFileName,
		FileVersion:    1,
		BeforeWriteHeader: func(entry *core.FileEntry) {
			if !previousEncrModified.IsZero() && entry.LastWriteTimeUTC.Sub(previousEncrModified) < minimumLogAdvance &&
				entry.LastWriteTimeUTC.Sub(previousEncrModified) >= -minimumLogAdvance {
				entry.LastWriteTimeUTC = previousEncrModified.Add(minimumLogAdvance)
			}
		},
	})
	if err != nil {
		return errors.Wrap(err, "unable to encrypt file")
	}
	if err := os.Chtimes(encrPath, written.LastWriteTimeUTC, written.LastWriteTimeUTC); err != nil {
		return errors.Wrap(err, "unable to set encrypted file last-write time")
	}

	if _, err := e.EncrOverlay.RefreshEntry(p.EncrFileName); err != nil {
		return errors.Wrap(err, "unable to refresh encrypted cache entry")
	}

	entry := &synclog.Entry{
		EntryType:       p.DecrInfo.Kind,
		DecrFileName:    p.DecrFileName,
		DecrModifiedUTC: p.DecrInfo.ModTime,
		EncrFileName:    p.EncrFileName,
		EncrModifiedUTC: written.LastWriteTimeUTC,
	}
	return errors.Wrap(e.Log.Add(entry), "unable to append sync log entry")
}

// syncDecryptedRemoval handles a DecryptedSide record whose decrypted file
// has been deleted, by deleting (or purging) the corresponding encrypted
// blob.
func (e *Executor) syncDecryptedRemoval(p *core.PreSync) error {
	if p.EncrInfo != nil {
		if p.EncrInfo.Kind == fsoverlay.Directory {
			if err := e.EncrOverlay.DeleteDirectory(p.EncrInfo, true); err != nil {
				return errors.Wrap(err, "unable to remove encrypted directory entry")
			}
		} else if err := e.EncrOverlay.DeleteFile(p.EncrInfo); err != nil {
			return errors.Wrap(err, "unable to remove encrypted file")
		}
	}

	entry := &synclog.Entry{
		EntryType:    fsoverlay.Removed,
		DecrFileName: p.DecrFileName,
		EncrFileName: p.EncrFileName,
	}
	return errors.Wrap(e.Log.Add(entry), "unable to append sync log entry")
}

// syncEncryptedSide propagates an encrypted-side change to the decrypted
// side, or resolves a Purge with no disk I/O.
func (e *Executor) syncEncryptedSide(p *core.PreSync) error {
	if p.DisplayOperation == core.Purge {
		entry := &synclog.Entry{
			EntryType:    fsoverlay.Removed,
			DecrFileName: p.DecrFileName,
			EncrFileName: p.EncrFileName,
		}
		return errors.Wrap(e.Log.Add(entry), "unable to append sync log entry")
	}

	if p.EncrInfo == nil {
		// The encrypted blob is gone; mirror the removal on the decrypted
		// side and record it.
		if p.DecrInfo != nil {
			if p.DecrInfo.Kind == fsoverlay.Directory {
				if err := e.DecrOverlay.DeleteDirectory(p.DecrInfo, true); err != nil {
					return errors.Wrap(err, "unable to remove decrypted directory entry")
				}
			} else if err := e.DecrOverlay.DeleteFile(p.DecrInfo); err != nil {
				return errors.Wrap(err, "unable to remove decrypted file")
			}
		}
		entry := &synclog.Entry{
			EntryType:    fsoverlay.Removed,
			DecrFileName: p.DecrFileName,
			EncrFileName: p.EncrFileName,
		}
		return errors.Wrap(e.Log.Add(entry), "unable to append sync log entry")
	}

	if p.EncrHeader == nil {
		return errorkind.Wrap(errorkind.Integrity, errors.Errorf("cannot apply encrypted-side change for %q without a decrypted header", p.EncrFileName))
	}
	if p.EncrHeader.EntryType == fsoverlay.File && e.tooLarge(p.EncrHeader.Length) {
		return errorkind.Wrap(errorkind.Structural, errors.Errorf(
			"%q is %d bytes, exceeding the maximum tracked file size", p.EncrHeader.FileName, p.EncrHeader.Length))
	}

	targetEntry := &synclog.Entry{
		EntryType:       p.EncrHeader.EntryType,
		DecrFileName:    p.EncrHeader.FileName,
		DecrModifiedUTC: p.EncrHeader.LastWriteTimeUTC,
		EncrFileName:    p.EncrFileName,
		EncrModifiedUTC: p.EncrInfo.ModTime,
	}
	if p.LogEntry != nil && p.LogEntry.Equal(targetEntry) {
		return nil
	}

	if existing, err := e.DecrOverlay.TryGetEntry(p.EncrHeader.FileName); err != nil {
		return err
	} else if existing == nil {
		if caseCollision, err := e.findCaseOnlyCollision(p.EncrHeader.FileName); err != nil {
			return err
		} else if caseCollision != nil {
			return errorkind.Wrap(errorkind.CaseOnlyConflict, errors.Errorf(
				"decrypted side already has %q, which differs only in case from %q", caseCollision.RelativePath, p.EncrHeader.FileName))
		}
	}

	decrPath := e.DecrOverlay.AbsolutePath(p.EncrHeader.FileName)
	encrPath := e.EncrOverlay.AbsolutePath(p.EncrFileName)
	if p.EncrHeader.EntryType == fsoverlay.Directory {
		if err := os.MkdirAll(decrPath, 0o755); err != nil {
			return errors.Wrap(err, "unable to create decrypted directory")
		}
	} else if err := e.Codec.DecryptFile(encrPath, decrPath, e.KeyMaterial); err != nil {
		return errors.Wrap(err, "unable to decrypt file")
	}

	if _, err := e.DecrOverlay.RefreshEntry(p.EncrHeader.FileName); err != nil {
		return errors.Wrap(err, "unable to refresh decrypted cache entry")
	}

	return errors.Wrap(e.Log.Add(targetEntry), "unable to append sync log entry")
}

// findCaseOnlyCollision looks for an existing decrypted entry whose name
// matches name under case-insensitive comparison but not exactly,
// indicating the filesystem already holds a differently-cased version of
// the same logical path.
func (e *Executor) findCaseOnlyCollision(name string) (*fsoverlay.Entry, error) {
	parent, err := e.DecrOverlay.TryGetEntry(upath.Dir(name))
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, nil
	}

	siblings, err := e.DecrOverlay.GetEntries(parent, fsoverlay.TopOnly)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if sibling.RelativePath != name &&
			upath.EqualFold(sibling.RelativePath, name, true) {
			return sibling, nil
		}
	}
	return nil, nil
}
