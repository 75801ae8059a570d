package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	cases := []struct {
		name   string
		t1, t2 string
		want   float64
	}{
		{"identical", "x = 12", "x = 12", 1},
		{"first empty", "", "abc", 0},
		{"second empty", "abc", "", 0},
		{"whitespace only", "   \n\t", "abc", 0},
		{"whitespace runs collapse", "a   b", "a b", 1},
		{"newlines and trim", "  a\n\tb ", "a b", 1},
		{"nbsp collapses", "a  b", "a b", 1},
		{"disjoint same length", "abc", "xyz", 0},
		{"kitten sitting", "kitten", "sitting", 1 - 3.0/7.0},
		{"case sensitive", "B", "b", 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.InDelta(t, c.want, Similarity(c.t1, c.t2), 1e-9)
		})
	}
}

func TestSimilaritySymmetricAndBounded(t *testing.T) {
	texts := []string{"a", "ab", "The answer is 42", "42", strings.Repeat("long text ", 50), "  padded  ", "选 C"}
	for _, a := range texts {
		for _, b := range texts {
			s := Similarity(a, b)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
			assert.InDelta(t, s, Similarity(b, a), 1e-12)
		}
	}
}

func TestNormalizeSpaces(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeSpaces("\n a \r\n b\t\tc 　"))
	assert.Equal(t, "", NormalizeSpaces(" \t\n"))
}
