// Package search builds keyword and URL-domain indices over the
// non-trashed entries of a set of vaults. Term ranking is pluggable;
// the default ranker is Levenshtein-based. URL hit counts persist in a
// host-provided key/value store so that frequently chosen entries rank
// first on revisits.
package search

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/aledsdavies/lockbook/core/invariant"
	"github.com/aledsdavies/lockbook/runtime/tree"
)

// storeKeyPrefix keys the per-vault score map in the host store.
const storeKeyPrefix = "bcup_search_"

// Ranker scores a candidate string against a query; higher is better.
type Ranker func(query, candidate string) float64

// DefaultRanker rewards substring containment and otherwise decays
// with edit distance.
func DefaultRanker(query, candidate string) float64 {
	q := strings.ToLower(query)
	c := strings.ToLower(candidate)
	if q == "" || c == "" {
		return 0
	}
	if strings.Contains(c, q) {
		return 1
	}
	return 1 / (1 + float64(levenshtein.ComputeDistance(q, c)))
}

// ScoreStore is the host-provided key/value store for URL hit counts.
// Get returns ok=false when the key has never been written.
type ScoreStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// MemoryStore is a map-backed ScoreStore for tests.
type MemoryStore struct {
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.values[key] = value
	return nil
}

// Result is one scored entry.
type Result struct {
	VaultID string
	Entry   *tree.Entry
	Score   float64
}

type indexedEntry struct {
	vaultID string
	entry   *tree.Entry
	domain  string
}

// Index holds the term and URL indices over the added vaults.
type Index struct {
	ranker  Ranker
	store   ScoreStore
	entries []indexedEntry
}

// NewIndex builds an empty index. A nil ranker selects DefaultRanker.
func NewIndex(store ScoreStore, ranker Ranker) *Index {
	invariant.NotNil(store, "store")
	if ranker == nil {
		ranker = DefaultRanker
	}
	return &Index{ranker: ranker, store: store}
}

// AddVault indexes every entry of v outside the trash group.
func (idx *Index) AddVault(vaultID string, v *tree.Vault) {
	invariant.NotNil(v, "vault")
	v.WalkGroups(func(g *tree.Group) bool {
		if v.InTrash(g.ID) {
			return true
		}
		for _, e := range g.Entries {
			idx.entries = append(idx.entries, indexedEntry{
				vaultID: vaultID,
				entry:   e,
				domain:  hostOf(e.Properties["url"]),
			})
		}
		return true
	})
}

// SearchByTerm ranks entries against term over title, username, and
// url; the best-scoring property wins per entry.
func (idx *Index) SearchByTerm(term string) []Result {
	var results []Result
	for _, ie := range idx.entries {
		score := 0.0
		for _, prop := range []string{"title", "username", "url"} {
			if v, ok := ie.entry.Properties[prop]; ok {
				if s := idx.ranker(term, v); s > score {
					score = s
				}
			}
		}
		if score > 0 {
			results = append(results, Result{VaultID: ie.vaultID, Entry: ie.entry, Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// SearchByURL ranks entries whose URL domain is related to the query
// URL's domain. Two hosts are related when one suffixes the other.
// Ordering is by persisted hit count, then by edit-distance proximity
// of the full URLs.
func (idx *Index) SearchByURL(rawURL string) ([]Result, error) {
	queryHost := hostOf(rawURL)
	if queryHost == "" {
		return nil, nil
	}

	var results []Result
	for _, ie := range idx.entries {
		if ie.domain == "" || !relatedHosts(queryHost, ie.domain) {
			continue
		}
		hits, err := idx.hitCount(ie.vaultID, ie.entry.ID, ie.domain)
		if err != nil {
			return nil, err
		}
		distance := levenshtein.ComputeDistance(rawURL, ie.entry.Properties["url"])
		score := float64(hits) + 1/float64(1+distance)
		results = append(results, Result{VaultID: ie.vaultID, Entry: ie.entry, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// IncrementScore bumps the persisted hit count for (vaultID, entryID,
// url's domain). It is the only write the indexer performs.
func (idx *Index) IncrementScore(vaultID, entryID, rawURL string) error {
	domain := hostOf(rawURL)
	if domain == "" {
		return fmt.Errorf("search: no host in %q", rawURL)
	}
	scores, err := idx.loadScores(vaultID)
	if err != nil {
		return err
	}
	if scores[domain] == nil {
		scores[domain] = make(map[string]int64)
	}
	scores[domain][entryID]++

	encoded, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("search: encode scores: %w", err)
	}
	if err := idx.store.Set(storeKeyPrefix+vaultID, string(encoded)); err != nil {
		return fmt.Errorf("search: persist scores: %w", err)
	}
	return nil
}

func (idx *Index) hitCount(vaultID, entryID, domain string) (int64, error) {
	scores, err := idx.loadScores(vaultID)
	if err != nil {
		return 0, err
	}
	return scores[domain][entryID], nil
}

// loadScores reads the per-vault domain→entry→count map.
func (idx *Index) loadScores(vaultID string) (map[string]map[string]int64, error) {
	raw, ok, err := idx.store.Get(storeKeyPrefix + vaultID)
	if err != nil {
		return nil, fmt.Errorf("search: read scores: %w", err)
	}
	scores := make(map[string]map[string]int64)
	if !ok || raw == "" {
		return scores, nil
	}
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return nil, fmt.Errorf("search: decode scores: %w", err)
	}
	return scores, nil
}

// hostOf extracts the host from a URL, tolerating scheme-less input.
func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return ""
		}
	}
	return strings.ToLower(u.Hostname())
}

// relatedHosts reports whether one host is a suffix of the other, so
// login.example.com matches example.com and vice versa.
func relatedHosts(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}
