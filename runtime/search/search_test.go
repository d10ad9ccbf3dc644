package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/lockbook/runtime/engine"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// buildVault assembles a vault with two live entries and one trashed.
func buildVault(t *testing.T) *tree.Vault {
	t.Helper()
	f := engine.New()
	require.NoError(t, f.LoadHistory([]string{
		"fmt 1",
		"aid v1",
		"cgr 0 G1",
		"cen G1 E1",
		`sep E1 title "GitHub work"`,
		"sep E1 username alice",
		`sep E1 url "https://github.com/login"`,
		"cen G1 E2",
		`sep E2 title "Example Bank"`,
		"sep E2 username bob",
		`sep E2 url "https://login.example.com/auth"`,
		"cgr 0 TR",
		`sga TR bc_group_role trash`,
		"cen TR E3",
		`sep E3 title "GitHub old"`,
		`sep E3 url "https://github.com"`,
	}))
	return f.Tree()
}

func newIndex(t *testing.T) (*Index, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	idx := NewIndex(store, nil)
	idx.AddVault("v1", buildVault(t))
	return idx, store
}

func TestSearchByTerm_RanksSubstringFirst(t *testing.T) {
	idx, _ := newIndex(t)

	results := idx.SearchByTerm("github")

	require.NotEmpty(t, results)
	assert.Equal(t, "E1", results[0].Entry.ID)
}

func TestSearchByTerm_SkipsTrashedEntries(t *testing.T) {
	idx, _ := newIndex(t)

	for _, r := range idx.SearchByTerm("github") {
		assert.NotEqual(t, "E3", r.Entry.ID, "trashed entry surfaced")
	}
}

func TestSearchByTerm_MatchesUsername(t *testing.T) {
	idx, _ := newIndex(t)

	results := idx.SearchByTerm("alice")
	require.NotEmpty(t, results)
	assert.Equal(t, "E1", results[0].Entry.ID)
}

func TestSearchByTerm_CustomRanker(t *testing.T) {
	store := NewMemoryStore()
	// A ranker that only ever matches bob
	idx := NewIndex(store, func(query, candidate string) float64 {
		if candidate == "bob" {
			return 1
		}
		return 0
	})
	idx.AddVault("v1", buildVault(t))

	results := idx.SearchByTerm("anything")
	require.Len(t, results, 1)
	assert.Equal(t, "E2", results[0].Entry.ID)
}

func TestSearchByURL_RelatedDomains(t *testing.T) {
	idx, _ := newIndex(t)

	// The bare apex matches the subdomain-hosted entry
	results, err := idx.SearchByURL("https://example.com/")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "E2", results[0].Entry.ID)

	// Unrelated domains stay out
	results, err = idx.SearchByURL("https://example.org/")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchByURL_HitCountDominates(t *testing.T) {
	store := NewMemoryStore()
	idx := NewIndex(store, nil)

	f := engine.New()
	require.NoError(t, f.LoadHistory([]string{
		"fmt 1",
		"aid v1",
		"cgr 0 G1",
		"cen G1 E1",
		`sep E1 url "https://app.example.com/a"`,
		"cen G1 E2",
		`sep E2 url "https://app.example.com/b"`,
	}))
	idx.AddVault("v1", f.Tree())

	// E2 has been chosen twice for this domain
	require.NoError(t, idx.IncrementScore("v1", "E2", "https://app.example.com/b"))
	require.NoError(t, idx.IncrementScore("v1", "E2", "https://app.example.com/b"))

	results, err := idx.SearchByURL("https://app.example.com/a")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "E2", results[0].Entry.ID, "hit count outweighs URL proximity")
}

func TestIncrementScore_PersistsJSON(t *testing.T) {
	idx, store := newIndex(t)

	require.NoError(t, idx.IncrementScore("v1", "E1", "https://github.com/login"))
	require.NoError(t, idx.IncrementScore("v1", "E1", "https://github.com/login"))

	raw, ok, err := store.Get("bcup_search_v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"github.com":{"E1":2}}`, raw)
}

func TestIncrementScore_NoHost(t *testing.T) {
	idx, _ := newIndex(t)
	assert.Error(t, idx.IncrementScore("v1", "E1", ""))
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://github.com/login", "github.com"},
		{"http://Login.Example.COM:8443/x", "login.example.com"},
		{"example.com/path", "example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hostOf(tt.in), "input %q", tt.in)
	}
}

func TestRelatedHosts(t *testing.T) {
	assert.True(t, relatedHosts("example.com", "example.com"))
	assert.True(t, relatedHosts("login.example.com", "example.com"))
	assert.True(t, relatedHosts("example.com", "login.example.com"))
	assert.False(t, relatedHosts("notexample.com", "example.com"))
	assert.False(t, relatedHosts("example.org", "example.com"))
}
