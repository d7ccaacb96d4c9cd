// Package selector picks the returned text out of a batch of candidates.
package selector

import (
	"cmp"
	"slices"
	"unicode/utf8"
)

// Pick returns the longest of exactly k candidates, measured in characters.
//
// Candidates are stable-sorted by ascending length and the last one is taken,
// so among equally long candidates the one generated later wins. candidates is
// not modified.
func Pick(candidates []string, k int) (string, error) {
	if k <= 0 || len(candidates) != k {
		return "", CandidateCountError{Got: len(candidates), Want: k}
	}
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b string) int {
		return cmp.Compare(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	})
	return sorted[len(sorted)-1], nil
}
