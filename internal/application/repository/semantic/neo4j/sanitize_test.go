package neo4j

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hanachan/kioku/internal/types"
)

func TestSanitizeRelType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"already clean", "LIKES", "LIKES"},
		{"lowercase", "likes", "LIKES"},
		{"spaces to underscore", "works at", "WORKS_AT"},
		{"mixed punctuation", "is-a friend of!", "IS_A_FRIEND_OF"},
		{"collapses runs", "has   many---dashes", "HAS_MANY_DASHES"},
		{"trims edges", "  _wants_  ", "WANTS"},
		{"leading digit falls back", "123_BAD", FallbackRelType},
		{"empty falls back", "", FallbackRelType},
		{"only punctuation falls back", "!!!", FallbackRelType},
		{"injection attempt sanitized", "]->(x) DETACH DELETE", "X_DETACH_DELETE"},
		{"unicode falls back", "好き", FallbackRelType},
		{"truncated to 50", strings.Repeat("AB", 40), strings.Repeat("AB", 25)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeRelType(tc.in))
		})
	}
}

func TestFuzzyQuery(t *testing.T) {
	assert.Equal(t, "anime~ OR ghibli~", fuzzyQuery([]string{"anime", "ghibli"}))
	assert.Equal(t, `c\+\+~`, fuzzyQuery([]string{"c++"}))
	assert.Equal(t, `"studio ghibli"`, fuzzyQuery([]string{"studio ghibli"}))

	many := make([]string, 15)
	for i := range many {
		many[i] = "kw"
	}
	assert.Len(t, strings.Split(fuzzyQuery(many), " OR "), maxQueryTerms)
}

func TestFilterKeywords(t *testing.T) {
	repo := &semanticRepository{
		noiseWords:   toSet([]string{"the", "about"}),
		genericWords: toSet([]string{"me", "facts"}),
	}

	useful, allGeneric := repo.filterKeywords([]string{"the", "Ghibli", "about"})
	assert.Equal(t, []string{"ghibli"}, useful)
	assert.False(t, allGeneric)

	useful, allGeneric = repo.filterKeywords([]string{"me", "facts"})
	assert.Equal(t, []string{"me", "facts"}, useful)
	assert.True(t, allGeneric)

	useful, allGeneric = repo.filterKeywords([]string{"the", "about"})
	assert.Empty(t, useful)
	assert.True(t, allGeneric)
}

func TestDedupeFacts(t *testing.T) {
	fact := func(source, rel, target string) types.SemanticFact {
		return types.SemanticFact{
			Source:       types.Node{ID: source},
			Relationship: rel,
			Target:       types.Node{ID: target},
		}
	}

	facts := dedupeFacts([]types.SemanticFact{
		fact("user", "LIKES", "anime"),
		fact("user", "LIKES", "anime"),
		fact("user", "LIKES", "manga"),
	})
	assert.Len(t, facts, 2)
	assert.Equal(t, "anime", facts[0].Target.ID)
	assert.Equal(t, "manga", facts[1].Target.ID)
}
