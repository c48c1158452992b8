package store

import (
	"path"
	"strings"
)

// Match reports whether key matches the glob pattern used by Scan.
func Match(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// LikePrefilter translates a Scan glob into a SQL LIKE pattern that matches a
// superset of the glob. Results must still be filtered with Match.
func LikePrefilter(pattern string) string {
	var b strings.Builder
	inClass := false
	for _, r := range pattern {
		switch {
		case inClass:
			if r == ']' {
				inClass = false
			}
		case r == '[':
			inClass = true
			b.WriteByte('_')
		case r == '*':
			b.WriteByte('%')
		case r == '?', r == '%', r == '_':
			b.WriteByte('_')
		case r == '\\':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
