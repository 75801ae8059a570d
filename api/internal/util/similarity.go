package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// \s alone misses NBSP, ideographic space and the BOM that models like to emit.
var reSpaces = regexp.MustCompile(`[\s\v\p{Z}\x{FEFF}]+`)

// NormalizeSpaces collapses every whitespace run into a single space and trims the ends.
func NormalizeSpaces(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// Similarity scores two texts in [0, 1] as 1 - distance/longest after
// whitespace normalisation. Empty input on either side scores 0.
func Similarity(text1, text2 string) float64 {
	if text1 == "" || text2 == "" {
		return 0
	}
	a, b := NormalizeSpaces(text1), NormalizeSpaces(text2)
	if a == "" || b == "" {
		return 0
	}

	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	d := Distance(a, b)
	return 1 - float64(d)/float64(longest)
}
