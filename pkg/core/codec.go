package core

import "time"

// EncryptOptions configures a single EncryptFile call.
type EncryptOptions struct {
	// StoredFileName overrides the on-disk logical name recorded in the
	// header with the given relative path (used so that renames at the
	// decrypted-side join layer don't require re-deriving it from the
	// filesystem).
	StoredFileName string
	// FileVersion is the on-disk header format version to write.
	FileVersion uint32
	// BeforeWriteHeader, if non-nil, is invoked with the FileEntry about to
	// be written so that callers can adjust metadata (e.g. the 1-second
	// monotonic advance enforced by the executor) before it's sealed.
	BeforeWriteHeader func(*FileEntry)
}

// FileEntry is the metadata an encrypted blob's header actually ends up
// storing, returned by EncryptFile so the caller can learn the final
// (possibly adjusted) values.
type FileEntry struct {
	FileName         string
	EntryType        int
	LastWriteTimeUTC time.Time
	Length           int64
}

// Codec is the out-of-scope collaborator responsible for per-file
// encryption, decryption, and header-only decryption. Its concrete
// implementation (header format, key derivation, AEAD framing) lives
// outside this package; see pkg/codec for a reference implementation.
type Codec interface {
	// EncryptFile encrypts decrPath to encrPath using keyMaterial,
	// returning the header actually written.
	EncryptFile(decrPath, encrPath string, keyMaterial []byte, options EncryptOptions) (FileEntry, error)
	// DecryptFile decrypts encrPath to decrPath using keyMaterial.
	DecryptFile(encrPath, decrPath string, keyMaterial []byte) error
	// DecryptHeader decrypts only the header of encrPath, without
	// processing the (possibly large) body.
	DecryptHeader(encrPath string, keyMaterial []byte) (EncrHeader, error)
}

// NameEncoder deterministically maps a decrypted relative path to its
// ciphertext filename. It is out of scope for this package's algorithm but
// is required by the Three-Way Matcher to compute EncrFileName from
// DecrFileName; see pkg/nameencoding for a reference implementation.
type NameEncoder interface {
	// Encode deterministically encodes decrRelativePath, given the
	// directory's derived key.
	Encode(decrRelativePath string) (string, error)
}
