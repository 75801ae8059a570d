// Package diag is the failure boundary of the service: every error that
// escapes a handler is classified here, answered with a Record carrying a
// trace id, and logged with its stack, cause and request payload.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"homework-review/api/internal/apperr"
)

// Record is the wire body of every reported failure.
type Record struct {
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	TraceID    string `json:"traceId"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Reporter struct {
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
	reported *prometheus.CounterVec
}

type Option func(*Reporter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// WithIDs replaces the trace id generator.
func WithIDs(gen func() string) Option {
	return func(r *Reporter) { r.newID = gen }
}

// WithRegisterer counts reported failures by status and label.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Reporter) {
		r.reported = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "homework_review",
			Subsystem: "diag",
			Name:      "reported_errors_total",
			Help:      "Failures answered with a diagnostic record.",
		}, []string{"status", "error"})
	}
}

func New(log *slog.Logger, opts ...Option) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	r := &Reporter{
		log:   log.With("component", "diag"),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RequestPath renders the "[METHOD]URL" form used in records and logs.
func RequestPath(method, url string) string {
	return "[" + method + "]" + url
}

// Capture classifies err and writes the log lines for it. The bool is false
// for routing errors (404, 405, 403) that are answered by default handling
// and get neither a trace id nor a record.
func (rp *Reporter) Capture(err error, method, url string, payload any) (Record, bool) {
	if err == nil {
		err = apperr.Unknown(nil, "")
	}
	path := RequestPath(method, url)

	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		err = apperr.TooLarge(fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
	}

	if he, ok := apperr.AsPassthrough(err); ok {
		rp.log.Info(fmt.Sprintf("%s: %s === %s", he.Name(), he.Error(), path))
		return Record{}, false
	}

	var (
		ae    *apperr.Error
		cause error
	)
	if errors.As(err, &ae) {
		cause = ae.Cause
	} else {
		ae = apperr.Classify(err)
		cause = errors.Unwrap(err)
	}

	status := ae.StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	rec := Record{
		StatusCode: status,
		Timestamp:  rp.now().UTC().Format(timestampLayout),
		Path:       path,
		TraceID:    rp.newID(),
		Message:    ae.Error(),
		Error:      label(err, ae),
	}
	if rp.reported != nil {
		rp.reported.WithLabelValues(fmt.Sprint(status), rec.Error).Inc()
	}

	// the log line keeps the wrappers' context; the record carries the domain message
	rp.logFailure(rec, name(err, ae), err.Error(), ae.Stack(), cause, payload)
	return rec, true
}

func (rp *Reporter) logFailure(rec Record, kind, msg, stack string, cause error, payload any) {
	defer func() {
		if v := recover(); v != nil {
			rp.log.Warn("diagnostic logging failed", slog.Any("panic", v))
		}
	}()

	end := fmt.Sprintf("<<< [%s] === %s", rec.TraceID, rec.Path)
	rp.log.Error(
		fmt.Sprintf("%s: %s === [%s] === %s >>>", kind, msg, rec.TraceID, rec.Path),
		slog.Int("status", rec.StatusCode),
		slog.String("trace_id", rec.TraceID),
		slog.String("stack", stack),
		slog.String("end", end),
	)

	if cause != nil {
		var causeStack string
		var ce *apperr.Error
		if errors.As(cause, &ce) {
			causeStack = ce.Stack()
		}
		rp.log.Error(
			fmt.Sprintf("cause %s: %s === [%s] === %s >>>", causeName(cause), cause.Error(), rec.TraceID, rec.Path),
			slog.String("trace_id", rec.TraceID),
			slog.String("stack", causeStack),
			slog.String("end", end),
		)
	}

	if isEmpty(payload) || !rp.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		rp.log.Debug("request data: unavailable",
			slog.String("trace_id", rec.TraceID), slog.Any("error", err), slog.String("end", end))
		return
	}
	rp.log.Debug("request data:"+string(data), slog.String("trace_id", rec.TraceID), slog.String("end", end))
}

// label picks the "error" field: a declared description, then the kind name.
func label(err error, ae *apperr.Error) string {
	var d apperr.Describer
	if errors.As(err, &d) {
		if s := d.Description(); s != "" {
			return s
		}
	}
	return name(err, ae)
}

func name(err error, ae *apperr.Error) string {
	var he *apperr.HTTPError
	if ae.Kind == apperr.Unclassified && errors.As(err, &he) {
		return he.Name()
	}
	return ae.Name()
}

func causeName(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Name()
	}
	var he *apperr.HTTPError
	if errors.As(err, &he) {
		return he.Name()
	}
	return fmt.Sprintf("%T", err)
}

func isEmpty(p any) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.String, reflect.Array:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}
