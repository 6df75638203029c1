package core

import (
	"fmt"

	"github.com/helixsync/helixsync/pkg/fsoverlay"
	"github.com/helixsync/helixsync/pkg/synclog"
)

// Match implements the Three-Way Matcher (spec component C3): it joins the
// decrypted filesystem entries (recursive, relative to the decrypted
// root), the encrypted filesystem entries (top-level of the encrypted
// root, with any reserved files such as the directory header already
// excluded by the caller), and the sync log into a single list of PreSync
// records. It performs no content reads or header decryption; that's the
// Change Classifier's job.
func Match(decrEntries, encrEntries []*fsoverlay.Entry, log *synclog.Log, nameEncoder NameEncoder) ([]*PreSync, error) {
	byDecrName := make(map[string]*PreSync)
	byEncrName := make(map[string]*PreSync)
	var records []*PreSync

	register := func(p *PreSync) {
		records = append(records, p)
		if p.DecrFileName != "" {
			byDecrName[p.DecrFileName] = p
		}
		if p.EncrFileName != "" {
			byEncrName[p.EncrFileName] = p
		}
	}

	// Step 4: seed from the log, one record per distinct decrypted name.
	for _, entry := range log.Latest() {
		register(&PreSync{
			DecrFileName: entry.DecrFileName,
			EncrFileName: entry.EncrFileName,
			LogEntry:     entry,
		})
	}

	// Steps 5-6: decrypted-side join.
	for _, decrInfo := range decrEntries {
		name := decrInfo.RelativePath
		if existing, ok := byDecrName[name]; ok {
			existing.DecrInfo = decrInfo
			continue
		}

		encrName, err := nameEncoder.Encode(name)
		if err != nil {
			return nil, fmt.Errorf("unable to encode name %q: %w", name, err)
		}
		register(&PreSync{
			DecrFileName: name,
			EncrFileName: encrName,
			DecrInfo:     decrInfo,
		})
	}

	// Step 7: encrypted-side join.
	for _, encrInfo := range encrEntries {
		name := encrInfo.RelativePath
		if existing, ok := byEncrName[name]; ok {
			existing.EncrInfo = encrInfo
			continue
		}
		register(&PreSync{
			EncrFileName: name,
			EncrInfo:     encrInfo,
		})
	}

	return records, nil
}
