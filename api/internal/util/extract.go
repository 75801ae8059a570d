package util

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const previewLen = 500

var (
	reFenceOpen  = regexp.MustCompile("(?i)^```[\\w+-]*\\s*")
	reFenceClose = regexp.MustCompile("\\s*```\\s*$")
)

// ParseError is returned when no JSON value can be recovered from a model answer.
type ParseError struct {
	Original string // truncated
	Cleaned  string // truncated
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractJSON recovers a JSON value from noisy LLM output. Well-formed input
// is returned by the direct parse; everything else goes through fence,
// markup and bracket cleanup before a final attempt.
func ExtractJSON(content string) (any, error) {
	var v any
	if err := ExtractInto(content, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ExtractInto is ExtractJSON decoding straight into v.
func ExtractInto(content string, v any) error {
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}
	slog.Debug("direct JSON parse failed, cleaning content")

	cleaned := CleanModelJSON(content)
	slog.Debug("cleaned content", slog.String("preview", Truncate(cleaned, 200)))

	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &ParseError{
			Original: Truncate(content, previewLen),
			Cleaned:  Truncate(cleaned, previewLen),
			Err:      err,
		}
	}
	return nil
}

// CleanModelJSON applies the textual cleanup stages in order: code fences,
// markdown headings and bold lines, then slicing to the outermost [ ... ].
func CleanModelJSON(content string) string {
	s := StripCodeFences(content)
	s = stripMarkup(s)

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start != -1 && end != -1 && end > start {
		s = s[start : end+1]
	}
	return s
}

// StripCodeFences removes a leading ```lang opener and a trailing ``` closer.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = reFenceOpen.ReplaceAllString(s, "")
	s = reFenceClose.ReplaceAllString(s, "")
	return s
}

func stripMarkup(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "#") || isBoldLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isBoldLine(line string) bool {
	t := strings.TrimRight(line, " \t\r")
	return len(t) >= 4 && strings.HasPrefix(t, "**") && strings.HasSuffix(t, "**")
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
