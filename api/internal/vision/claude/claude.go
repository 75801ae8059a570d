// Package claude grades photos with Anthropic Claude models.
package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/util"
)

const (
	DefaultModel = "claude-sonnet-4-5"
	maxTokens    = 4096
)

// Engine implements vision.Engine on the Messages API.
// anthropic.Client is a value type.
type Engine struct {
	APIKey string
	model  string
	client anthropic.Client
}

func New(apiKey, model string, opts ...option.RequestOption) *Engine {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Engine{APIKey: apiKey, model: model, client: anthropic.NewClient(opts...)}
}

func (e *Engine) Name() string  { return "anthropic" }
func (e *Engine) Model() string { return e.model }

func (e *Engine) Complete(ctx context.Context, img []byte, mime, prompt string) (string, error) {
	if e.APIKey == "" {
		return "", apperr.ExternalService("anthropic: ANTHROPIC_API_KEY is empty", nil)
	}
	mime = util.PickMIME(mime, "", img)

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(e.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mime, base64.StdEncoding.EncodeToString(img)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", apperr.ExternalService("anthropic request failed", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", apperr.ExternalService("anthropic request failed", errors.New("response contained no text content blocks"))
	}
	return strings.Join(parts, ""), nil
}
