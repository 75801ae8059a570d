// Package gemini grades photos with Google Gemini through the generative-ai-go SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/util"
)

const (
	DefaultModel = "gemini-2.5-flash"
	maxAttempts  = 3
)

type Engine struct {
	APIKey string
	model  string
	opts   []option.ClientOption
}

func New(key, model string, opts ...option.ClientOption) *Engine {
	if model == "" {
		model = DefaultModel
	}
	return &Engine{APIKey: key, model: model, opts: opts}
}

func (e *Engine) Name() string  { return "gemini" }
func (e *Engine) Model() string { return e.model }

func (e *Engine) Complete(ctx context.Context, img []byte, mime, prompt string) (string, error) {
	if e.APIKey == "" {
		return "", apperr.ExternalService("gemini: GEMINI_API_KEY is empty", nil)
	}
	opts := append([]option.ClientOption{option.WithAPIKey(e.APIKey)}, e.opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", apperr.ExternalService("gemini request failed", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.model)
	m.SetTemperature(0)

	parts := []genai.Part{
		&genai.Blob{MIMEType: util.PickMIME(mime, "", img), Data: img},
		genai.Text(prompt),
	}

	// ретраи на случай 5xx/транзиентных сбоев
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err == nil {
			txt := firstText(resp)
			if txt == "" {
				return "", apperr.ExternalService("gemini request failed", errors.New("empty response"))
			}
			return txt, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", apperr.ExternalService("gemini request failed", errors.Join(ctx.Err(), lastErr))
		case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
		}
	}
	return "", apperr.ExternalService("gemini request failed",
		fmt.Errorf("%d attempts: %w", maxAttempts, lastErr))
}

// firstText joins the text parts of the first candidate that has any.
func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}
