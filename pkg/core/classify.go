package core

import (
	"fmt"
	"time"

	"github.com/helixsync/helixsync/pkg/fsoverlay"
)

// timeResolution is the minimum resolution at which encrypted-side
// last-write times are considered meaningfully distinct (spec §3
// invariant #6).
const timeResolution = time.Second

// timesEqual compares two times at the encrypted side's storage
// resolution.
func timesEqual(a, b time.Time) bool {
	return a.Truncate(timeResolution).Equal(b.Truncate(timeResolution))
}

// absentOrRemoved reports whether a filesystem entry represents "nothing
// here" for classification purposes. The overlay represents deletion by
// simply omitting the entry (returning nil) rather than materializing an
// explicit Removed-kind node, so nil and an explicit Removed kind are
// treated identically here; see DESIGN.md for the rationale.
func absentOrRemoved(e *fsoverlay.Entry) bool {
	return e == nil || e.Kind == fsoverlay.Removed
}

// ClassifyAll runs the Change Classifier (spec component C4) over a list
// of PreSync records produced by Match. It first decrypts the header of
// every record with a non-nil EncrInfo, then classifies each record's
// SyncMode and DisplayOperation. codec and keyMaterial are used only for
// DecryptHeader; classification never reads decrypted file content.
func ClassifyAll(records []*PreSync, codec Codec, keyMaterial []byte, nameEncoder NameEncoder) error {
	for _, p := range records {
		if p.EncrInfo == nil {
			continue
		}
		header, err := codec.DecryptHeader(p.EncrInfo.RelativePath, keyMaterial)
		if err != nil {
			p.headerErr = fmt.Errorf("unable to decrypt header for %q: %w", p.EncrInfo.RelativePath, err)
			continue
		}
		p.EncrHeader = &header

		if p.DecrFileName == "" {
			roundTripped, err := nameEncoder.Encode(header.FileName)
			if err == nil && roundTripped == p.EncrInfo.RelativePath {
				p.DecrFileName = header.FileName
			}
		}
	}

	for _, p := range records {
		classify(p)
	}

	return nil
}

// classify determines a single PreSync's SyncMode and DisplayOperation.
func classify(p *PreSync) {
	if p.headerErr != nil {
		p.SyncMode = Unknown
		p.DisplayOperation = Error
		return
	}

	decrChanged := computeDecrChanged(p)
	encrChanged, orphan := computeEncrChanged(p)
	if orphan {
		p.SyncMode = Unknown
		p.DisplayOperation = Error
		return
	}

	p.SyncMode = computeSyncMode(p, decrChanged, encrChanged)
	p.DisplayOperation, p.DisplayEntryType, p.DisplayFileLength = computeDisplayOperation(p)
}

// computeDecrChanged implements spec §4.4's decr_changed table.
func computeDecrChanged(p *PreSync) bool {
	log := p.LogEntry
	decr := p.DecrInfo

	if log == nil {
		return !absentOrRemoved(decr)
	}
	if log.IsRemoved() && absentOrRemoved(decr) {
		return false
	}
	if !log.IsRemoved() && decr != nil &&
		log.EntryType == decr.Kind &&
		log.DecrFileName == decr.RelativePath &&
		timesEqual(log.DecrModifiedUTC, decr.ModTime) {
		return false
	}
	return true
}

// computeEncrChanged implements spec §4.4's encr_changed table. The second
// return value reports the "Orphan" inconsistency (spec §9 design note):
// the log claims a non-removed encrypted entry that isn't there.
func computeEncrChanged(p *PreSync) (changed bool, orphan bool) {
	log := p.LogEntry
	encr := p.EncrInfo

	if log == nil {
		return !absentOrRemoved(encr), false
	}
	if log.IsRemoved() && absentOrRemoved(encr) {
		return true, false
	}
	if !log.IsRemoved() && absentOrRemoved(encr) {
		return false, true
	}
	if log.EncrFileName == encr.RelativePath && timesEqual(log.EncrModifiedUTC, encr.ModTime) {
		return false, false
	}
	return true, false
}

// computeSyncMode implements spec §4.4's sync_mode table.
func computeSyncMode(p *PreSync, decrChanged, encrChanged bool) SyncMode {
	switch {
	case !decrChanged && !encrChanged:
		return Unchanged
	case decrChanged && encrChanged:
		if absentOrRemoved(p.DecrInfo) && p.EncrHeader == nil {
			return Match
		}
		if p.EncrHeader != nil && p.DecrInfo != nil &&
			p.DecrInfo.Kind == p.EncrHeader.EntryType &&
			timesEqual(p.DecrInfo.ModTime, p.EncrHeader.LastWriteTimeUTC) {
			return Match
		}
		return Conflict
	case encrChanged:
		return EncryptedSide
	case decrChanged:
		return DecryptedSide
	default:
		return Unknown
	}
}

// encrSaysRemoved reports whether the encrypted side (filesystem entry or
// recovered header) indicates the logical entry doesn't exist.
func encrSaysRemoved(p *PreSync) bool {
	if absentOrRemoved(p.EncrInfo) {
		return true
	}
	return p.EncrHeader != nil && p.EncrHeader.EntryType == fsoverlay.Removed
}

// computeDisplayOperation implements spec §4.4's display_operation table.
func computeDisplayOperation(p *PreSync) (DisplayOperation, fsoverlay.Kind, int64) {
	switch p.SyncMode {
	case Match, Unchanged:
		return None, fsoverlay.File, 0
	case Unknown:
		return Error, fsoverlay.File, 0
	case DecryptedSide:
		if absentOrRemoved(p.DecrInfo) {
			return Remove, fsoverlay.Removed, 0
		}
		if encrSaysRemoved(p) {
			return Add, p.DecrInfo.Kind, p.DecrInfo.Length
		}
		return Change, p.DecrInfo.Kind, p.DecrInfo.Length
	case EncryptedSide:
		if encrSaysRemoved(p) && p.LogEntry != nil && p.LogEntry.IsRemoved() {
			return Purge, fsoverlay.Purged, 0
		}
		if encrSaysRemoved(p) {
			return Remove, fsoverlay.Removed, 0
		}
		if absentOrRemoved(p.DecrInfo) {
			length := int64(0)
			if p.EncrHeader != nil {
				length = p.EncrHeader.Length
			}
			kind := fsoverlay.File
			if p.EncrHeader != nil {
				kind = p.EncrHeader.EntryType
			}
			return Add, kind, length
		}
		kind := fsoverlay.File
		length := int64(0)
		if p.EncrHeader != nil {
			kind = p.EncrHeader.EntryType
			length = p.EncrHeader.Length
		}
		return Change, kind, length
	default:
		return Error, fsoverlay.File, 0
	}
}
