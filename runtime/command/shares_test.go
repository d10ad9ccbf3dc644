package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shareA = "11111111-2222-3333-4444-555555555555"
	shareB = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
)

func TestExtractShares_RoutesLines(t *testing.T) {
	lines := []string{
		"fmt 1",
		"aid v1",
		"$" + shareA + " cgr 0 SG1",
		"cgr 0 G1",
		"$" + shareA + " tgr SG1 Shared",
		"$" + shareB + " cgr 0 SG2",
		"pad abc123",
	}

	base, shares := ExtractShares(lines)

	assert.Equal(t, []string{"fmt 1", "aid v1", "cgr 0 G1", "pad abc123"}, base)
	require.Len(t, shares, 2)
	assert.Equal(t, []string{"cgr 0 SG1", "tgr SG1 Shared"}, shares[shareA])
	assert.Equal(t, []string{"cgr 0 SG2"}, shares[shareB])
}

func TestExtractShares_InvalidPrefixStaysInBase(t *testing.T) {
	lines := []string{"$notauuid cgr 0 G1", "$" + shareA[:8] + " cgr 0 G2"}

	base, shares := ExtractShares(lines)

	assert.Equal(t, lines, base)
	assert.Empty(t, shares)
}

func TestExtractShares_RecomposeBijection(t *testing.T) {
	// GIVEN: A mixed history
	original := []string{
		"fmt 1",
		"aid v1",
		"$" + shareA + " cgr 0 SG1",
		"cgr 0 G1",
		"$" + shareB + " cgr 0 SG2",
		"$" + shareA + " tgr SG1 Shared",
	}

	// WHEN: We extract and recompose
	base, shares := ExtractShares(original)
	recomposed := Recompose(base, shares)

	// THEN: The same multiset of lines comes back, with intra-bucket
	// order preserved
	assert.ElementsMatch(t, original, recomposed)

	base2, shares2 := ExtractShares(recomposed)
	assert.Equal(t, base, base2)
	assert.Equal(t, shares, shares2)
}

func TestExtractShares_Empty(t *testing.T) {
	base, shares := ExtractShares(nil)
	assert.Empty(t, base)
	assert.Empty(t, shares)
}
