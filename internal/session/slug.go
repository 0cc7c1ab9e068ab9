package session

import (
	"fmt"
	"strings"
	"unicode"
)

// baseSlug lowercases name, turns whitespace into underscores and drops
// characters that are unsafe in a directory name.
func baseSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Slug returns "<base>_<N>" where N is one more than the number of existing
// ids sharing the base, skipping forward past any id already taken.
func Slug(name string, existing []string) string {
	base := baseSlug(name)
	if base == "" {
		base = "session"
	}

	taken := make(map[string]bool, len(existing))
	count := 0
	for _, id := range existing {
		taken[id] = true
		if strings.HasPrefix(id, base+"_") {
			count++
		}
	}

	n := count + 1
	for {
		id := fmt.Sprintf("%s_%d", base, n)
		if !taken[id] {
			return id
		}
		n++
	}
}
