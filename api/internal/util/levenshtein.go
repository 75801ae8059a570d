package util

import "unicode/utf8"

// Distance returns the Levenshtein distance between a and b: the minimum
// number of single-character insertions, deletions or substitutions that
// turn a into b. Characters are compared as runes, without case folding.
// A byte that is not valid UTF-8 counts as one character equal only to the
// same byte.
func Distance(a, b string) int {
	ra, rb := units(a), units(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// two rows of the (m+1)x(n+1) matrix are enough, only the last cell is read
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
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution or match
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// units decodes s into runes. Invalid bytes map to negative values so that
// they neither collide with each other nor with a literal U+FFFD.
func units(s string) []rune {
	out := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			r = -1 - rune(s[i])
		}
		out = append(out, r)
		i += size
	}
	return out
}
