package vision

import (
	"context"

	"golang.org/x/time/rate"

	"homework-review/api/internal/apperr"
)

// Limited throttles calls to the wrapped engine with a token bucket.
type Limited struct {
	Engine
	lim *rate.Limiter
}

// Limit wraps e so that it is called at most rps times a second with the
// given burst. rps <= 0 returns e unchanged.
func Limit(e Engine, rps float64, burst int) Engine {
	if rps <= 0 {
		return e
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{Engine: e, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Complete(ctx context.Context, img []byte, mime, prompt string) (string, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", apperr.ExternalService(l.Name()+": rate limit wait failed", err)
	}
	return l.Engine.Complete(ctx, img, mime, prompt)
}
