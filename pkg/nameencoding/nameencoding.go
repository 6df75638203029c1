// Package nameencoding implements the reference NameEncoder: a
// deterministic, passphrase-derived mapping from a decrypted relative path
// to its opaque ciphertext filename.
package nameencoding

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/hkdf"

	"github.com/helixsync/helixsync/pkg/encoding"
)

const nameKeyInfo = "helix-sync name v1"

// truncatedLength is the number of raw HMAC bytes kept before Base62
// encoding; 16 bytes gives a collision-resistant, filesystem-friendly
// filename without the full 32-byte digest's length.
const truncatedLength = 16

// Encoder is the reference NameEncoder, keyed by a directory's derived key
// material. The zero value is not usable; construct with New.
type Encoder struct {
	key []byte
}

// New derives a name-encoding subkey from keyMaterial and returns an
// Encoder ready to use.
func New(keyMaterial []byte) (*Encoder, error) {
	key := make([]byte, sha256.Size)
	if _, err := hkdf.New(sha256.New, keyMaterial, nil, []byte(nameKeyInfo)).Read(key); err != nil {
		return nil, fmt.Errorf("unable to derive name-encoding key: %w", err)
	}
	return &Encoder{key: key}, nil
}

// Encode deterministically maps a decrypted relative path to its ciphertext
// filename: HMAC-SHA256 keyed by the directory's derived key, truncated,
// and Base62-encoded, mirroring this module's own collision-resistant
// identifier scheme rather than inventing a new encoding convention.
func (e *Encoder) Encode(decrRelativePath string) (string, error) {
	mac := hmac.New(sha256.New, e.key)
	if _, err := mac.Write([]byte(decrRelativePath)); err != nil {
		return "", fmt.Errorf("unable to compute name digest: %w", err)
	}
	digest := mac.Sum(nil)[:truncatedLength]
	return encoding.EncodeBase62(digest), nil
}
