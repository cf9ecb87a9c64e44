package neo4j

import (
	"regexp"
	"strings"
)

// FallbackRelType is used when a model-supplied relationship type cannot be
// turned into a legal Cypher identifier.
const FallbackRelType = "RELATED_TO"

var relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,49}$`)

// SanitizeRelType normalizes a free-form relationship type into a safe Cypher
// identifier. Relationship types cannot be parameterized, so anything that
// does not normalize cleanly falls back to FallbackRelType instead of being
// interpolated into the query.
func SanitizeRelType(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	s = strings.Trim(b.String(), "_")
	if len(s) > 50 {
		s = s[:50]
	}

	if !relTypePattern.MatchString(s) {
		return FallbackRelType
	}
	return s
}
