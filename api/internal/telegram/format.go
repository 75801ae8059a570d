package telegram

import (
	"fmt"
	"strings"

	"homework-review/api/internal/review"
	"homework-review/api/internal/util"
)

// FormatReport renders a graded report as a chat message.
func FormatReport(rep *review.Report) string {
	if rep == nil || len(rep.Items) == 0 {
		return "На фото не нашлось заданий для проверки. Попробуй сфотографировать страницу ровнее."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Проверено: %d, верно: %d из %d\n\n", rep.Total, rep.Correct, rep.Total)
	for _, it := range rep.Items {
		mark := "❌"
		if it.Result {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%s %s. %s\n", mark, it.ID, oneLine(it.Question))
		fmt.Fprintf(&sb, "   ответ: %s\n", oneLine(it.Answer))
		if !it.Result {
			fmt.Fprintf(&sb, "   правильно: %s\n", oneLine(it.CorrectAnswer))
		}
		if !it.Consistent {
			fmt.Fprintf(&sb, "   ⚠️ сходство %.0f%%, проверь вручную\n", it.Similarity*100)
		}
	}
	if rep.Inconsistent > 0 {
		fmt.Fprintf(&sb, "\n⚠️ Сомнительных оценок: %d", rep.Inconsistent)
	}
	if rep.Cached {
		sb.WriteString("\n(из кэша)")
	}
	return util.Truncate(strings.TrimRight(sb.String(), "\n"), maxMessageLen)
}

func oneLine(s string) string {
	s = util.NormalizeSpaces(s)
	if s == "" {
		return "-"
	}
	return s
}
