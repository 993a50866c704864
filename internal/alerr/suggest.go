package alerr

import "fmt"

// maxSuggestDistance bounds how far a typo may be from a known name before
// no suggestion is offered.
const maxSuggestDistance = 3

// editDistance returns the Levenshtein distance between a and b.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// ClosestMatch returns the candidate nearest to input, if any is within
// maxSuggestDistance edits. Ties keep the earliest candidate.
func ClosestMatch(input string, candidates []string) (string, bool) {
	best := ""
	bestDist := maxSuggestDistance + 1

	for _, c := range candidates {
		if d := editDistance(input, c); d < bestDist {
			best, bestDist = c, d
		}
	}

	return best, bestDist <= maxSuggestDistance
}

// SuggestSimilar returns a "did you mean 'X'?" hint, or "" when nothing is close.
func SuggestSimilar(input string, candidates []string) string {
	if match, ok := ClosestMatch(input, candidates); ok {
		return fmt.Sprintf("did you mean '%s'?", match)
	}
	return ""
}
