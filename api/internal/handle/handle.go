package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"homework-review/api/internal/metrics"
	"homework-review/api/internal/review"
	"homework-review/api/internal/vision"
)

// Reviewer is what the HTTP layer needs from the review service.
type Reviewer interface {
	Review(ctx context.Context, req review.Request) (string, error)
	Grade(ctx context.Context, req review.Request) (*review.Report, error)
}

type Handle struct {
	svc       Reviewer
	engs      *vision.Engines
	monitor   *metrics.Monitor
	startedAt time.Time
}

func New(svc Reviewer, engs *vision.Engines, monitor *metrics.Monitor) *Handle {
	return &Handle{
		svc:       svc,
		engs:      engs,
		monitor:   monitor,
		startedAt: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}
