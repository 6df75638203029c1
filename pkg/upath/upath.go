// Package upath provides fast helpers for universal ("/"-separated)
// relative paths, the form used throughout this module for both decrypted
// and encrypted relative paths.
package upath

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Join is a fast alternative to path.Join designed specifically for
// root-relative universal paths. The provided leaf name must be non-empty.
func Join(base, leaf string) string {
	if leaf == "" {
		panic("upath: empty leaf name")
	}
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

// Dir is a fast alternative to path.Dir for root-relative universal paths.
// Unlike path.Dir, the root is represented as "". The provided path must be
// non-empty.
func Dir(path string) string {
	if path == "" {
		panic("upath: empty path")
	}
	if index := strings.LastIndexByte(path, '/'); index != -1 {
		return path[:index]
	}
	return ""
}

// Base returns the final component of a root-relative universal path. An
// empty path (the root) yields an empty string.
func Base(path string) string {
	if path == "" {
		return ""
	}
	if index := strings.LastIndexByte(path, '/'); index != -1 {
		return path[index+1:]
	}
	return path
}

// IsAncestor reports whether ancestor is a strict, direct-or-indirect
// ancestor directory of path (i.e. path lies under ancestor).
func IsAncestor(ancestor, path string) bool {
	if ancestor == "" {
		return path != ""
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// Less performs a sort comparison between two root-relative universal
// paths, ordering parents before children and siblings lexically.
func Less(first, second string) bool {
	if first == second {
		return false
	} else if first == "" {
		return true
	} else if second == "" {
		return false
	}
	for {
		fi := strings.IndexByte(first, '/')
		si := strings.IndexByte(second, '/')

		var fc, sc string
		if fi == -1 {
			fc = first
		} else {
			fc = first[:fi]
		}
		if si == -1 {
			sc = second
		} else {
			sc = second[:si]
		}

		if fc < sc {
			return true
		} else if sc < fc {
			return false
		}

		if fi == -1 {
			return true
		} else if si == -1 {
			return false
		}
		first = first[fi+1:]
		second = second[si+1:]
	}
}

// Fold returns a normalized form of a path suitable for case-insensitive
// and Unicode-equivalence comparison: each path component is Unicode-NFC
// normalized and, if caseInsensitive is true, lowercased.
func Fold(path string, caseInsensitive bool) string {
	normalized := norm.NFC.String(path)
	if caseInsensitive {
		normalized = strings.ToLower(normalized)
	}
	return normalized
}

// EqualFold reports whether two universal paths are equal under the given
// case-sensitivity rule, after Unicode normalization.
func EqualFold(a, b string, caseInsensitive bool) bool {
	return Fold(a, caseInsensitive) == Fold(b, caseInsensitive)
}
