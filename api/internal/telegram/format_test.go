package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"homework-review/api/internal/review"
)

func TestFormatReport(t *testing.T) {
	rep := &review.Report{
		Total: 2, Correct: 1, Inconsistent: 1, Cached: true,
		Items: []review.Item{
			{ID: "1", Result: true, Question: "2 +  2", Answer: "4", CorrectAnswer: "4", Similarity: 1, Consistent: true},
			{ID: "2", Result: false, Question: "3*3", Answer: "", CorrectAnswer: "9", Similarity: 0.95, Consistent: false},
		},
	}

	got := FormatReport(rep)
	assert.Equal(t, strings.Join([]string{
		"Проверено: 2, верно: 1 из 2",
		"",
		"✅ 1. 2 + 2",
		"   ответ: 4",
		"❌ 2. 3*3",
		"   ответ: -",
		"   правильно: 9",
		"   ⚠️ сходство 95%, проверь вручную",
		"",
		"⚠️ Сомнительных оценок: 1",
		"(из кэша)",
	}, "\n"), got)
}

func TestFormatReport_Empty(t *testing.T) {
	assert.Contains(t, FormatReport(nil), "не нашлось заданий")
	assert.Contains(t, FormatReport(&review.Report{}), "не нашлось заданий")
}

func TestFormatReport_Truncated(t *testing.T) {
	items := make([]review.Item, 200)
	for i := range items {
		items[i] = review.Item{ID: "x", Result: true, Consistent: true, Question: strings.Repeat("q", 40), Answer: "a"}
	}
	got := FormatReport(&review.Report{Total: 200, Correct: 200, Items: items})
	assert.LessOrEqual(t, utf8.RuneCountInString(got), maxMessageLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
