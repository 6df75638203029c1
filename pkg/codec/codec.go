// Package codec implements the reference Codec described by the external
// interfaces section of the design: AEAD file encryption with a separately
// decryptable header, so that DecryptHeader never touches a file's (possibly
// large) body.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/helixsync/helixsync/pkg/core"
	"github.com/helixsync/helixsync/pkg/errorkind"
	"github.com/helixsync/helixsync/pkg/fsoverlay"
	"github.com/helixsync/helixsync/pkg/random"
)

// magic identifies the on-disk format version. core.EncryptOptions'
// FileVersion does not change this, and this codec does not record
// FileVersion anywhere in the file: the header plaintext holds only the entry
// type, last-write time, length, and file name.
var magic = [4]byte{'H', 'S', 'X', '1'}

const (
	headerInfo = "helix-sync header v1"
	bodyInfo   = "helix-sync body v1"
)

// Codec is the reference AEAD-based implementation of core.Codec. The zero
// value is ready to use.
type Codec struct{}

var _ core.Codec = Codec{}

func subkey(keyMaterial []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, keyMaterial, nil, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("unable to derive subkey: %w", err)
	}
	return key, nil
}

func seal(aead interface {
	Seal([]byte, []byte, []byte, []byte) []byte
}, nonceSize int, plaintext []byte) ([]byte, error) {
	nonce, err := random.New(nonceSize)
	if err != nil {
		return nil, fmt.Errorf("unable to generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// headerPayload is the plaintext structure stored (encrypted) at the front
// of every ciphertext file.
type headerPayload struct {
	EntryType        fsoverlay.Kind
	LastWriteTimeUTC time.Time
	Length           int64
	FileName         string
}

func encodeHeaderPayload(h headerPayload) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(h.EntryType))

	var timeBuf [8]byte
	binary.BigEndian.PutUint64(timeBuf[:], uint64(h.LastWriteTimeUTC.UTC().UnixNano()))
	buf.Write(timeBuf[:])

	var lengthBuf [8]byte
	binary.BigEndian.PutUint64(lengthBuf[:], uint64(h.Length))
	buf.Write(lengthBuf[:])

	var nameLenBuf [4]byte
	binary.BigEndian.PutUint32(nameLenBuf[:], uint32(len(h.FileName)))
	buf.Write(nameLenBuf[:])
	buf.WriteString(h.FileName)

	return buf.Bytes()
}

func decodeHeaderPayload(data []byte) (headerPayload, error) {
	if len(data) < 1+8+8+4 {
		return headerPayload{}, fmt.Errorf("header payload too short")
	}
	entryType := fsoverlay.Kind(data[0])
	offset := 1

	nanos := int64(binary.BigEndian.Uint64(data[offset : offset+8]))
	offset += 8
	length := int64(binary.BigEndian.Uint64(data[offset : offset+8]))
	offset += 8

	nameLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if offset+nameLen > len(data) {
		return headerPayload{}, fmt.Errorf("header payload truncated")
	}
	name := string(data[offset : offset+nameLen])

	return headerPayload{
		EntryType:        entryType,
		LastWriteTimeUTC: time.Unix(0, nanos).UTC(),
		Length:           length,
		FileName:         name,
	}, nil
}

// EncryptFile implements core.Codec.
func (Codec) EncryptFile(decrPath, encrPath string, keyMaterial []byte, options core.EncryptOptions) (core.FileEntry, error) {
	info, err := os.Stat(decrPath)
	if err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to stat decrypted file: %w", err))
	}

	kind := fsoverlay.File
	var plaintext []byte
	if info.IsDir() {
		kind = fsoverlay.Directory
	} else {
		plaintext, err = os.ReadFile(decrPath)
		if err != nil {
			return core.FileEntry{}, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to read decrypted file: %w", err))
		}
	}

	name := options.StoredFileName
	if name == "" {
		name = decrPath
	}

	entry := &core.FileEntry{
		FileName:         name,
		EntryType:        int(kind),
		LastWriteTimeUTC: info.ModTime().UTC(),
		Length:           int64(len(plaintext)),
	}
	if options.BeforeWriteHeader != nil {
		options.BeforeWriteHeader(entry)
	}

	headerKey, err := subkey(keyMaterial, headerInfo)
	if err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.Configuration, err)
	}
	bodyKey, err := subkey(keyMaterial, bodyInfo)
	if err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.Configuration, err)
	}

	headerAEAD, err := chacha20poly1305.NewX(headerKey)
	if err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("unable to construct header cipher: %w", err))
	}
	bodyAEAD, err := chacha20poly1305.NewX(bodyKey)
	if err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("unable to construct body cipher: %w", err))
	}

	headerPlain := encodeHeaderPayload(headerPayload{
		EntryType:        fsoverlay.Kind(entry.EntryType),
		LastWriteTimeUTC: entry.LastWriteTimeUTC,
		Length:           entry.Length,
		FileName:         entry.FileName,
	})
	sealedHeader, err := seal(headerAEAD, chacha20poly1305.NonceSizeX, headerPlain)
	if err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.Integrity, err)
	}
	sealedBody, err := seal(bodyAEAD, chacha20poly1305.NonceSizeX, plaintext)
	if err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.Integrity, err)
	}

	var out bytes.Buffer
	out.Write(magic[:])
	var headerLenBuf [4]byte
	binary.BigEndian.PutUint32(headerLenBuf[:], uint32(len(sealedHeader)))
	out.Write(headerLenBuf[:])
	out.Write(sealedHeader)
	out.Write(sealedBody)

	temp := encrPath + ".tmp"
	if err := os.WriteFile(temp, out.Bytes(), 0o600); err != nil {
		return core.FileEntry{}, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to write encrypted file: %w", err))
	}
	if err := os.Rename(temp, encrPath); err != nil {
		os.Remove(temp)
		return core.FileEntry{}, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to finalize encrypted file: %w", err))
	}

	return *entry, nil
}

// DecryptFile implements core.Codec. The restored file's last-write time is
// set from the header rather than left at the write time of this call, so
// that a subsequent scan of the decrypted side sees a file unchanged from
// what was just synced.
func (Codec) DecryptFile(encrPath, decrPath string, keyMaterial []byte) error {
	data, err := os.ReadFile(encrPath)
	if err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to read encrypted file: %w", err))
	}

	headerCiphertext, bodyCiphertext, err := splitSealed(data)
	if err != nil {
		return errorkind.Wrap(errorkind.Integrity, err)
	}

	headerKey, err := subkey(keyMaterial, headerInfo)
	if err != nil {
		return errorkind.Wrap(errorkind.Configuration, err)
	}
	headerAEAD, err := chacha20poly1305.NewX(headerKey)
	if err != nil {
		return errorkind.Wrap(errorkind.Configuration, fmt.Errorf("unable to construct header cipher: %w", err))
	}
	headerPlain, err := open(headerAEAD, chacha20poly1305.NonceSizeX, headerCiphertext)
	if err != nil {
		return errorkind.Wrap(errorkind.Integrity, fmt.Errorf("unable to decrypt header: %w", err))
	}
	payload, err := decodeHeaderPayload(headerPlain)
	if err != nil {
		return errorkind.Wrap(errorkind.Integrity, fmt.Errorf("malformed header payload: %w", err))
	}

	bodyKey, err := subkey(keyMaterial, bodyInfo)
	if err != nil {
		return errorkind.Wrap(errorkind.Configuration, err)
	}
	bodyAEAD, err := chacha20poly1305.NewX(bodyKey)
	if err != nil {
		return errorkind.Wrap(errorkind.Configuration, fmt.Errorf("unable to construct body cipher: %w", err))
	}

	plaintext, err := open(bodyAEAD, chacha20poly1305.NonceSizeX, bodyCiphertext)
	if err != nil {
		return errorkind.Wrap(errorkind.Integrity, fmt.Errorf("unable to decrypt body: %w", err))
	}

	temp := decrPath + ".tmp"
	if err := os.WriteFile(temp, plaintext, 0o644); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to write decrypted file: %w", err))
	}
	if err := os.Rename(temp, decrPath); err != nil {
		os.Remove(temp)
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to finalize decrypted file: %w", err))
	}
	if err := os.Chtimes(decrPath, payload.LastWriteTimeUTC, payload.LastWriteTimeUTC); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to restore last-write time: %w", err))
	}
	return nil
}

// DecryptHeader implements core.Codec. It reads only enough of the file to
// recover the header, never the (possibly much larger) body.
func (Codec) DecryptHeader(encrPath string, keyMaterial []byte) (core.EncrHeader, error) {
	file, err := os.Open(encrPath)
	if err != nil {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to open encrypted file: %w", err))
	}
	defer file.Close()

	var prefix [8]byte
	if _, err := io.ReadFull(file, prefix[:]); err != nil {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.Integrity, fmt.Errorf("truncated encrypted file: %w", err))
	}
	if !bytes.Equal(prefix[:4], magic[:]) {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.Integrity, fmt.Errorf("bad magic in encrypted file"))
	}
	headerLen := binary.BigEndian.Uint32(prefix[4:8])

	sealedHeader := make([]byte, headerLen)
	if _, err := io.ReadFull(file, sealedHeader); err != nil {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.Integrity, fmt.Errorf("truncated encrypted header: %w", err))
	}

	headerKey, err := subkey(keyMaterial, headerInfo)
	if err != nil {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.Configuration, err)
	}
	headerAEAD, err := chacha20poly1305.NewX(headerKey)
	if err != nil {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.Configuration, fmt.Errorf("unable to construct header cipher: %w", err))
	}

	plain, err := open(headerAEAD, chacha20poly1305.NonceSizeX, sealedHeader)
	if err != nil {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.Integrity, fmt.Errorf("unable to decrypt header: %w", err))
	}

	payload, err := decodeHeaderPayload(plain)
	if err != nil {
		return core.EncrHeader{}, errorkind.Wrap(errorkind.Integrity, fmt.Errorf("malformed header payload: %w", err))
	}

	return core.EncrHeader{
		FileName:         payload.FileName,
		EntryType:        payload.EntryType,
		LastWriteTimeUTC: payload.LastWriteTimeUTC,
		Length:           payload.Length,
	}, nil
}

func splitSealed(data []byte) (header, body []byte, err error) {
	if len(data) < 8 || !bytes.Equal(data[:4], magic[:]) {
		return nil, nil, fmt.Errorf("bad magic in encrypted file")
	}
	headerLen := int(binary.BigEndian.Uint32(data[4:8]))
	if len(data) < 8+headerLen {
		return nil, nil, fmt.Errorf("truncated encrypted file")
	}
	header = data[8 : 8+headerLen]
	body = data[8+headerLen:]
	return header, body, nil
}

func open(aead interface {
	Open([]byte, []byte, []byte, []byte) ([]byte, error)
}, nonceSize int, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed data shorter than nonce")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return aead.Open(nil, nonce, ciphertext, nil)
}
