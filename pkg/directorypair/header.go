package directorypair

import (
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v2"

	"github.com/helixsync/helixsync/pkg/errorkind"
)

// EncryptedHeaderFileName is the well-known reserved file at the root of
// the encrypted directory holding the pair's identity and key-derivation
// parameters (spec §6).
const EncryptedHeaderFileName = ".helix.hx"

// DecryptedReservedDirName is the well-known reserved subdirectory of the
// decrypted directory holding the mirrored DirectoryId and the sync log
// (spec §6).
const DecryptedReservedDirName = ".helix"

// DirectoryIdFileName is the file within DecryptedReservedDirName holding
// the plaintext DirectoryId the decrypted side was initialized with.
const DirectoryIdFileName = "directory-id"

// SyncLogFileName is the file within DecryptedReservedDirName holding the
// append-only sync log.
const SyncLogFileName = "sync.log"

const (
	currentFileVersion  = 1
	argonKeyLength      = 32
	defaultArgonTime    = 3
	defaultArgonMemory  = 64 * 1024
	defaultArgonThreads = 2
	saltLength          = 16
)

// header is the plaintext structure stored, YAML-encoded, in the encrypted
// header file. It is never itself encrypted: it carries exactly what's
// needed to derive the key material used to decrypt everything else.
type header struct {
	DirectoryId  string `yaml:"directoryId"`
	FileVersion  uint32 `yaml:"fileVersion"`
	Salt         []byte `yaml:"salt"`
	ArgonTime    uint32 `yaml:"argonTime"`
	ArgonMemory  uint32 `yaml:"argonMemory"`
	ArgonThreads uint8  `yaml:"argonThreads"`
}

func loadHeader(path string) (*header, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("encrypted directory is not initialized: missing %s", EncryptedHeaderFileName))
	} else if err != nil {
		return nil, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to read header file: %w", err))
	}

	h := &header{}
	if err := yaml.UnmarshalStrict(data, h); err != nil {
		return nil, errorkind.Wrap(errorkind.Integrity, fmt.Errorf("malformed header file: %w", err))
	}
	if h.FileVersion == 0 || h.DirectoryId == "" || len(h.Salt) == 0 {
		return nil, errorkind.Wrap(errorkind.Integrity, fmt.Errorf("incomplete header file"))
	}
	return h, nil
}

func (h *header) save(path string) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("unable to encode header: %w", err)
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to write header file: %w", err))
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to finalize header file: %w", err))
	}
	return nil
}

// deriveKey computes the directory's key material from a passphrase using
// the header's recorded Argon2id parameters.
func (h *header) deriveKey(passphrase []byte) []byte {
	return argon2.IDKey(passphrase, h.Salt, h.ArgonTime, h.ArgonMemory, h.ArgonThreads, argonKeyLength)
}
