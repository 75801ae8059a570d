package util

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"Hello", "hello", 1},
		{"中文答案", "中文", 2},
		{"3/4", "0.75", 4},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Distance(c.a, c.b), "Distance(%q, %q)", c.a, c.b)
	}
}

func TestDistance_InvalidUTF8(t *testing.T) {
	assert.Equal(t, 1, Distance("\xff", "\xfe"))
	assert.Equal(t, 1, Distance("\xff", "\uFFFD"))
	assert.Zero(t, Distance("a\xffb", "a\xffb"))
	assert.Equal(t, 2, Distance("\xff\xfe", ""))
	assert.Less(t, Similarity("\xff", "\xfe"), 1.0)
	assert.Equal(t, utf8.RuneCountInString("x\xffy"), len(units("x\xffy")))
}

func TestDistanceProperties(t *testing.T) {
	words := []string{"", "a", "ab", "ba", "abc", "x = 12", "x=12", "答案是 B", "The answer is B", "B"}
	for _, a := range words {
		assert.Zero(t, Distance(a, a), "Distance(%q, %q)", a, a)
		assert.Equal(t, utf8.RuneCountInString(a), Distance("", a))
		for _, b := range words {
			d := Distance(a, b)
			assert.Equal(t, d, Distance(b, a), "symmetry for %q, %q", a, b)
			assert.LessOrEqual(t, d, max(utf8.RuneCountInString(a), utf8.RuneCountInString(b)))
			assert.GreaterOrEqual(t, d, 0)
		}
	}
}
