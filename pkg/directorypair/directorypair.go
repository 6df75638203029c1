// Package directorypair ties the FS overlays, the sync log, and the sync
// executor together into the single resource a driver actually opens: a
// paired decrypted directory and encrypted directory, identified by a
// shared DirectoryId and unlocked by a shared passphrase.
package directorypair

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/helixsync/helixsync/pkg/codec"
	"github.com/helixsync/helixsync/pkg/config"
	"github.com/helixsync/helixsync/pkg/core"
	"github.com/helixsync/helixsync/pkg/errorkind"
	"github.com/helixsync/helixsync/pkg/executor"
	"github.com/helixsync/helixsync/pkg/fsoverlay"
	"github.com/helixsync/helixsync/pkg/identifier"
	"github.com/helixsync/helixsync/pkg/logging"
	"github.com/helixsync/helixsync/pkg/nameencoding"
	"github.com/helixsync/helixsync/pkg/random"
	"github.com/helixsync/helixsync/pkg/synclog"
)

// DirectoryPair is an opened, unlocked pair of decrypted and encrypted
// directory roots sharing one DirectoryId, ready to compute and apply
// changes.
type DirectoryPair struct {
	DirectoryId string

	decrRoot string
	encrRoot string

	decrOverlay *fsoverlay.Overlay
	encrOverlay *fsoverlay.Overlay
	log         *synclog.Log
	keyMaterial []byte
	nameEncoder *nameencoding.Encoder
	executor    *executor.Executor
	logger      *logging.Logger
	cfg         *config.Configuration
}

// Init creates a new, empty directory pair: it generates a DirectoryId and
// key-derivation salt, writes the encrypted header file, and writes the
// decrypted side's mirrored identity file. Both roots must already exist
// as empty or freshly-created directories.
func Init(decrRoot, encrRoot string, passphrase []byte) error {
	headerPath := filepath.Join(encrRoot, EncryptedHeaderFileName)
	if _, err := os.Stat(headerPath); err == nil {
		return errorkind.Wrap(errorkind.Configuration, fmt.Errorf("encrypted directory is already initialized"))
	}

	directoryId, err := identifier.New()
	if err != nil {
		return fmt.Errorf("unable to generate directory id: %w", err)
	}
	salt, err := random.New(saltLength)
	if err != nil {
		return fmt.Errorf("unable to generate salt: %w", err)
	}

	h := &header{
		DirectoryId:  directoryId,
		FileVersion:  currentFileVersion,
		Salt:         salt,
		ArgonTime:    defaultArgonTime,
		ArgonMemory:  defaultArgonMemory,
		ArgonThreads: defaultArgonThreads,
	}
	if err := h.save(headerPath); err != nil {
		return err
	}

	reservedDir := filepath.Join(decrRoot, DecryptedReservedDirName)
	if err := os.MkdirAll(reservedDir, 0o700); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to create reserved directory: %w", err))
	}
	idPath := filepath.Join(reservedDir, DirectoryIdFileName)
	if err := os.WriteFile(idPath, []byte(directoryId), 0o600); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to write directory id: %w", err))
	}

	return nil
}

// Open acquires both directory roots and unlocks them with passphrase. If
// any step fails, whatever was acquired is released before returning the
// error; neither overlay nor the log holds a standing OS handle in this
// implementation, so that release is implicit, but the error path still
// never leaves a caller with a half-initialized DirectoryPair to use.
func Open(decrRoot, encrRoot string, passphrase []byte, cfg *config.Configuration, logger *logging.Logger) (*DirectoryPair, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	h, err := loadHeader(filepath.Join(encrRoot, EncryptedHeaderFileName))
	if err != nil {
		return nil, err
	}

	idPath := filepath.Join(decrRoot, DecryptedReservedDirName, DirectoryIdFileName)
	idBytes, err := os.ReadFile(idPath)
	if os.IsNotExist(err) {
		return nil, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("decrypted directory is not initialized: missing %s", idPath))
	} else if err != nil {
		return nil, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to read directory id: %w", err))
	}
	if string(idBytes) != h.DirectoryId {
		return nil, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("directory id mismatch: decrypted side has %q, encrypted side has %q", idBytes, h.DirectoryId))
	}

	keyMaterial := h.deriveKey(passphrase)

	caseInsensitive := cfg.ResolveCaseInsensitive(func() bool {
		insensitive, probeErr := probeCaseInsensitive(decrRoot)
		if probeErr != nil {
			return false
		}
		return insensitive
	})

	decrOverlay, err := fsoverlay.NewRoot(decrRoot, cfg.WhatIf, caseInsensitive, logger.Sublogger("decrypted"))
	if err != nil {
		return nil, err
	}
	encrOverlay, err := fsoverlay.NewRoot(encrRoot, cfg.WhatIf, false, logger.Sublogger("encrypted"))
	if err != nil {
		return nil, err
	}

	log, err := synclog.Open(filepath.Join(decrRoot, DecryptedReservedDirName, SyncLogFileName))
	if err != nil {
		return nil, err
	}

	nameEncoder, err := nameencoding.New(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("unable to derive name encoder: %w", err)
	}

	pair := &DirectoryPair{
		DirectoryId: h.DirectoryId,
		decrRoot:    decrRoot,
		encrRoot:    encrRoot,
		decrOverlay: decrOverlay,
		encrOverlay: encrOverlay,
		log:         log,
		keyMaterial: keyMaterial,
		nameEncoder: nameEncoder,
		logger:      logger,
		cfg:         cfg,
	}
	pair.executor = &executor.Executor{
		DecrOverlay:        decrOverlay,
		EncrOverlay:        encrOverlay,
		Log:                log,
		Codec:              codec.Codec{},
		NameEncoder:        nameEncoder,
		KeyMaterial:        keyMaterial,
		Logger:             logger.Sublogger("executor"),
		MaxTrackedFileSize: int64(cfg.MaximumTrackedFileSize),
	}

	return pair, nil
}

// Close releases the pair's resources. Neither the overlays nor the log
// hold a standing OS handle between calls in this implementation, so Close
// has nothing to release today; it exists so callers can rely on the
// acquire/release pairing described in the concurrency model even as the
// implementation evolves.
func (p *DirectoryPair) Close() error {
	return nil
}

// Reset re-reads filesystem state and reloads the sync log without
// re-deriving key material or re-resolving case-sensitivity.
func (p *DirectoryPair) Reset() error {
	p.decrOverlay.Reset()
	p.encrOverlay.Reset()
	return p.log.Reload()
}

// FindChanges runs the Three-Way Matcher, Change Classifier, and
// Dependency Sorter (C3+C4+C5) and returns the ordered list of records
// requiring action. Unchanged and Match records never appear in the
// result, since core.Sort already excludes any record for which
// IsChange() is false; it also excludes Unknown records. Conflict records
// do appear, and TrySync refuses them with a Conflict error.
func (p *DirectoryPair) FindChanges() ([]*core.PreSync, error) {
	decrRootEntry, err := p.decrOverlay.TryGetEntry("")
	if err != nil {
		return nil, err
	}
	var decrEntries []*fsoverlay.Entry
	if decrRootEntry != nil {
		all, err := flattenTree(p.decrOverlay, decrRootEntry, map[string]bool{DecryptedReservedDirName: true})
		if err != nil {
			return nil, err
		}
		for _, entry := range all {
			if !matchesIgnore(entry.RelativePath, p.cfg.Ignore.Paths) {
				decrEntries = append(decrEntries, entry)
			}
		}
	}

	encrRootEntry, err := p.encrOverlay.TryGetEntry("")
	if err != nil {
		return nil, err
	}
	var encrEntries []*fsoverlay.Entry
	if encrRootEntry != nil {
		all, err := p.encrOverlay.GetEntries(encrRootEntry, fsoverlay.TopOnly)
		if err != nil {
			return nil, err
		}
		for _, entry := range all {
			if entry.RelativePath != EncryptedHeaderFileName {
				encrEntries = append(encrEntries, entry)
			}
		}
	}

	records, err := core.Match(decrEntries, encrEntries, p.log, p.nameEncoder)
	if err != nil {
		return nil, err
	}

	if err := core.ClassifyAll(records, rootedHeaderCodec{encrRoot: p.encrRoot}, p.keyMaterial, p.nameEncoder); err != nil {
		return nil, err
	}

	return core.Sort(records, p.decrOverlay.CaseInsensitive)
}

// flattenTree recursively collects every descendant of dir (files and
// directories alike), since Overlay.GetEntries only ever returns dir's
// immediate children even when passed fsoverlay.All (that mode only
// pre-warms the deep cache); this walk uses fsoverlay.TopOnly at every
// level. excludeAtRoot names immediate children of dir to omit
// entirely, along with their subtrees; it is not applied at deeper levels.
func flattenTree(overlay *fsoverlay.Overlay, dir *fsoverlay.Entry, excludeAtRoot map[string]bool) ([]*fsoverlay.Entry, error) {
	children, err := overlay.GetEntries(dir, fsoverlay.TopOnly)
	if err != nil {
		return nil, err
	}

	var result []*fsoverlay.Entry
	for _, child := range children {
		if excludeAtRoot[child.RelativePath] {
			continue
		}
		result = append(result, child)
		if child.Kind == fsoverlay.Directory {
			nested, err := flattenTree(overlay, child, nil)
			if err != nil {
				return nil, err
			}
			result = append(result, nested...)
		}
	}
	return result, nil
}

// TrySync applies a single classified record.
func (p *DirectoryPair) TrySync(record *core.PreSync) executor.Result {
	return p.executor.TrySync(record)
}

// rootedHeaderCodec adapts codec.Codec's DecryptHeader to the
// overlay-root-relative paths that ClassifyAll has on hand (fsoverlay.Entry
// carries a path relative to its overlay root, not an absolute one).
// EncryptFile and DecryptFile are never called through this adapter: the
// executor resolves absolute paths itself via Overlay.AbsolutePath before
// calling them directly.
type rootedHeaderCodec struct {
	encrRoot string
}

func (c rootedHeaderCodec) EncryptFile(decrPath, encrPath string, keyMaterial []byte, options core.EncryptOptions) (core.FileEntry, error) {
	return codec.Codec{}.EncryptFile(decrPath, encrPath, keyMaterial, options)
}

func (c rootedHeaderCodec) DecryptFile(encrPath, decrPath string, keyMaterial []byte) error {
	return codec.Codec{}.DecryptFile(encrPath, decrPath, keyMaterial)
}

func (c rootedHeaderCodec) DecryptHeader(encrRelativePath string, keyMaterial []byte) (core.EncrHeader, error) {
	return codec.Codec{}.DecryptHeader(filepath.Join(c.encrRoot, encrRelativePath), keyMaterial)
}
