package command

import (
	"sort"
	"strings"
)

// ExtractShares demultiplexes a history into the base history and one
// sub-history per share. Share lines are returned with the `$<uuid>`
// prefix stripped; everything else lands in base, order preserved.
// The operation is pure: Recompose reproduces the original modulo
// ordering between buckets.
func ExtractShares(lines []string) (base []string, shares map[string][]string) {
	shares = make(map[string][]string)
	for _, line := range lines {
		if !strings.HasPrefix(line, "$") {
			base = append(base, line)
			continue
		}
		cut := strings.IndexAny(line, " \t")
		if cut < 0 || !IsValidShareID(line[1:cut]) {
			// Not a share prefix after all; leave it in the base for
			// the lexer to reject with a precise error.
			base = append(base, line)
			continue
		}
		id := line[1:cut]
		shares[id] = append(shares[id], strings.TrimLeft(line[cut:], " \t"))
	}
	return base, shares
}

// Recompose re-prefixes each share's lines and appends them to the
// base, inverting ExtractShares up to inter-bucket ordering. Share
// buckets are emitted in sorted ID order for determinism.
func Recompose(base []string, shares map[string][]string) []string {
	out := make([]string, 0, len(base))
	out = append(out, base...)

	ids := make([]string, 0, len(shares))
	for id := range shares {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, line := range shares[id] {
			out = append(out, "$"+id+" "+line)
		}
	}
	return out
}
