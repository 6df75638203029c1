package directorypair

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// probeCaseInsensitive determines whether the filesystem underlying dir
// treats names differing only in case as the same entry, by creating a
// marker file and looking it up under an inverted-case name. This mirrors
// in spirit (not in code, since the real test is unavoidably
// filesystem-specific) the probing approach of checking a live filesystem's
// behavior rather than trusting the host operating system's reputation,
// since case sensitivity is a per-volume property on several platforms.
func probeCaseInsensitive(dir string) (bool, error) {
	probeName := ".helix-case-probe"
	probePath := filepath.Join(dir, probeName)
	invertedPath := filepath.Join(dir, invertCase(probeName))

	if err := os.WriteFile(probePath, []byte{}, 0o600); err != nil {
		return false, fmt.Errorf("unable to create case probe file: %w", err)
	}
	defer os.Remove(probePath)

	_, err := os.Stat(invertedPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("unable to stat case probe file: %w", err)
}

func invertCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
