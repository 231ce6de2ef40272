// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package match

import (
	"strings"
	"unicode"

	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// Scoring tiers. Containment scores fall in [containmentBase,
// containmentBase+containmentSpan).
const (
	containmentBase = 0.85
	containmentSpan = 0.10
)

// Algorithm tags recorded on PropertyMatch.
const (
	AlgoExact       = "exact"
	AlgoNormalized  = "normalized-equality"
	AlgoContainment = "containment"
	AlgoLevenshtein = "levenshtein"
)

// Normalize lowercases a field name and strips everything that is not a
// letter or digit, so "First_Name", "first name" and "FirstName" coincide.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Score rates how well a source name matches a target name in [0,1]. The
// first tier that applies wins: normalized equality, containment of one
// normalized name in the other, then Levenshtein similarity.
func Score(source, target string) (float64, types.MatchKind, string) {
	ns, nt := Normalize(source), Normalize(target)
	if ns == "" || nt == "" {
		return 0, types.MatchFuzzy, AlgoLevenshtein
	}

	if ns == nt {
		if source == target {
			return 1, types.MatchExact, AlgoExact
		}
		return 1, types.MatchNormalized, AlgoNormalized
	}

	shorter, longer := []rune(ns), []rune(nt)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(string(longer), string(shorter)) {
		ratio := float64(len(shorter)) / float64(len(longer))
		return containmentBase + containmentSpan*ratio, types.MatchFuzzy, AlgoContainment
	}

	return Similarity(ns, nt), types.MatchFuzzy, AlgoLevenshtein
}

// Similarity is 1 - distance/max(len), computed over runes. Two empty
// strings are identical.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// Levenshtein returns the edit distance between two strings in runes.
func Levenshtein(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}

// levenshtein keeps two rows of the DP table, sized by the shorter input.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)
	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(b); j++ {
		curr[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i]+1, curr[i-1]+1, prev[i-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(a)]
}
