package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"

	"homework-review/api/internal/apperr"
)

func TestFirstText(t *testing.T) {
	assert.Empty(t, firstText(nil))
	assert.Empty(t, firstText(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{&genai.Blob{MIMEType: "image/png"}}}},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("[{\"id\":"), genai.Text("\"1\"}]")}}},
		},
	}
	assert.Equal(t, `[{"id":"1"}]`, firstText(resp))
}

func TestNewDefaults(t *testing.T) {
	e := New("k", "")
	assert.Equal(t, "gemini", e.Name())
	assert.Equal(t, DefaultModel, e.Model())
}

func TestComplete_EmptyKey(t *testing.T) {
	_, err := New("", "").Complete(context.Background(), []byte{1}, "image/png", "p")
	assert.True(t, apperr.Is(err, apperr.ExternalServiceFailure))
}
