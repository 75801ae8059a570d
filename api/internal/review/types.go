package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is one photo of a homework page.
type Request struct {
	Image  []byte
	MIME   string
	Engine string
	// Source and ChatID only tag the cache row.
	Source string
	ChatID int64
}

// QuestionID accepts both "3" and 3: models are not consistent about it.
type QuestionID string

func (q *QuestionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*q = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = QuestionID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("question id: %w", err)
		}
		*q = QuestionID(n.String())
	}
	return nil
}

// Item is one graded question as the model reports it, plus our checks.
type Item struct {
	ID            QuestionID `json:"id" validate:"required"`
	Result        bool       `json:"result"`
	Question      string     `json:"question"`
	Answer        string     `json:"answer"`
	CorrectAnswer string     `json:"correctAnswer"`

	// Similarity of Answer to CorrectAnswer, 0..1.
	Similarity float64 `json:"similarity"`
	// Consistent is false when the model's verdict disagrees with Similarity.
	Consistent bool `json:"consistent"`
}

type Report struct {
	Engine       string `json:"engine"`
	Model        string `json:"model"`
	Items        []Item `json:"items" validate:"dive"`
	Total        int    `json:"total"`
	Correct      int    `json:"correct"`
	Inconsistent int    `json:"inconsistent"`
	Cached       bool   `json:"cached"`
}
