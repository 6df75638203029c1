package directorypair

import "path"

// matchesIgnore reports whether relativePath should be treated as absent
// for matching purposes because some path segment matches one of patterns.
// Unlike the teacher's full ignore syntax
// (pkg/synchronization/core/ignore), this only does single-segment glob
// matching (path.Match against each path component), no negation, no
// directory-only suffixes, no recursive "**" — this engine's ignore
// surface is a narrow escape hatch, not a VCS-style ignore file.
func matchesIgnore(relativePath string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	segments := splitSegments(relativePath)
	for _, pattern := range patterns {
		for _, segment := range segments {
			if matched, err := path.Match(pattern, segment); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func splitSegments(relativePath string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(relativePath); i++ {
		if relativePath[i] == '/' {
			if i > start {
				segments = append(segments, relativePath[start:i])
			}
			start = i + 1
		}
	}
	if start < len(relativePath) {
		segments = append(segments, relativePath[start:])
	}
	return segments
}
