package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/diag"
	"homework-review/api/internal/handle"
)

type Options struct {
	Handle   *handle.Handle
	Reporter *diag.Reporter
	Gatherer prometheus.Gatherer
	// AllowedOrigins empty means every origin is reflected.
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// NewHandler builds the routed, CORS-aware and traced HTTP handler.
func NewHandler(o Options) http.Handler {
	rp := o.Reporter
	mux := http.NewServeMux()

	route := func(pattern string, h diag.HandlerFunc) {
		mux.Handle(pattern, rp.Middleware(h))
	}
	route("POST /api/review", o.Handle.Review)
	route("/api/review", methodNotAllowed)
	route("GET /api/stats", o.Handle.Stats)
	route("DELETE /api/stats", o.Handle.ClearStats)
	route("/api/stats", methodNotAllowed)
	route("GET /healthz", o.Handle.Health)
	route("/healthz", methodNotAllowed)
	if o.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}
	route("/", notFound)

	var h http.Handler = mux
	h = limitBody(h, rp, o.MaxBodyBytes)
	h = cors(h, rp, o.AllowedOrigins)
	return otelhttp.NewHandler(h, "homework-review",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

func notFound(w http.ResponseWriter, r *http.Request) error {
	return apperr.NotFound(fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) error {
	return apperr.MethodNotAllowed(fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

// StartHTTP serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func StartHTTP(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
