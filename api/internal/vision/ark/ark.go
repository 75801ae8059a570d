// Package ark talks to Volcengine Ark (doubao vision models) through its
// OpenAI-compatible chat completions API.
package ark

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/util"
)

const (
	DefaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultModel   = "doubao-seed-1-6-vision-250815"
)

type Engine struct {
	APIKey string
	model  string
	client openai.Client
}

// New builds an engine for the given endpoint. Extra request options are
// passed to the SDK client (retries, HTTP client).
func New(apiKey, baseURL, model string, opts ...option.RequestOption) *Engine {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}, opts...)
	return &Engine{
		APIKey: apiKey,
		model:  model,
		client: openai.NewClient(opts...),
	}
}

func (e *Engine) Name() string  { return "ark" }
func (e *Engine) Model() string { return e.model }

// Complete sends the image as a data URL followed by the prompt.
func (e *Engine) Complete(ctx context.Context, img []byte, mime, prompt string) (string, error) {
	if e.APIKey == "" {
		return "", apperr.ExternalService("ark: ARK_API_KEY is empty", nil)
	}
	mime = util.PickMIME(mime, "", img)

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(e.model),
		Temperature: openai.Float(0),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: util.EncodeDataURL(mime, img),
				}),
				openai.TextContentPart(prompt),
			}),
		},
	})
	if err != nil {
		return "", apperr.ExternalService("ark request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.ExternalService("ark request failed", errors.New("response contained no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
