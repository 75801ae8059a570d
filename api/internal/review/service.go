// Package review grades homework photos: it asks a vision engine for a
// per-question verdict, recovers the JSON from the answer and cross-checks
// every verdict with a text similarity score.
package review

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"homework-review/api/internal/apperr"
	"homework-review/api/internal/metrics"
	"homework-review/api/internal/store"
	"homework-review/api/internal/util"
	"homework-review/api/internal/vision"
)

//go:embed prompt/grade.txt
var DefaultPrompt string

var validate = validator.New(validator.WithRequiredStructEnabled())

// Cache is the subset of store.ReviewRepo the service needs.
type Cache interface {
	Find(ctx context.Context, imageHash, engine, model string, maxAge time.Duration) (*store.ReviewRow, error)
	Upsert(ctx context.Context, row store.ReviewRow) error
}

type Options struct {
	Cache     Cache
	CacheTTL  time.Duration
	Monitor   *metrics.Monitor
	Prompt    string
	Threshold float64
	Timeout   time.Duration
	Logger    *slog.Logger
}

type Service struct {
	engines   *vision.Engines
	cache     Cache
	cacheTTL  time.Duration
	monitor   *metrics.Monitor
	prompt    string
	threshold float64
	timeout   time.Duration
	log       *slog.Logger
	tracer    trace.Tracer
}

func New(engines *vision.Engines, o Options) *Service {
	s := &Service{
		engines:   engines,
		cache:     o.Cache,
		cacheTTL:  o.CacheTTL,
		monitor:   o.Monitor,
		prompt:    o.Prompt,
		threshold: o.Threshold,
		timeout:   o.Timeout,
		log:       o.Logger,
		tracer:    otel.Tracer("homework-review/review"),
	}
	if s.prompt == "" {
		s.prompt = DefaultPrompt
	}
	if s.threshold <= 0 || s.threshold > 1 {
		s.threshold = 0.8
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "review")
	if s.monitor == nil {
		s.monitor = metrics.NewMonitor(nil, s.log)
	}
	return s
}

// answer is a model answer with where it came from.
type answer struct {
	raw    string
	engine vision.Engine
	cached *store.ReviewRow
	key    string
}

// Review returns the model's raw grading text for the photo.
func (s *Service) Review(ctx context.Context, req Request) (string, error) {
	ctx, span := s.tracer.Start(ctx, "review.Review")
	defer span.End()

	a, err := s.ask(ctx, req)
	if err != nil {
		recordErr(span, err)
		return "", err
	}
	return a.raw, nil
}

// Grade reviews the photo and returns the parsed, cross-checked report.
func (s *Service) Grade(ctx context.Context, req Request) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "review.Grade")
	defer span.End()
	defer s.monitor.Start("grade")()

	a, err := s.ask(ctx, req)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}

	if a.cached != nil && len(a.cached.Report) > 0 {
		var rep Report
		if err := json.Unmarshal(a.cached.Report, &rep); err == nil {
			rep.Cached = true
			span.SetAttributes(attribute.Bool("review.cached", true))
			return &rep, nil
		}
	}

	rep, err := s.Evaluate(a.raw)
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	rep.Engine, rep.Model = a.engine.Name(), a.engine.Model()
	rep.Cached = a.cached != nil
	span.SetAttributes(
		attribute.Int("review.total", rep.Total),
		attribute.Int("review.inconsistent", rep.Inconsistent),
	)

	if s.cache != nil {
		if js, err := json.Marshal(rep); err == nil {
			s.store(ctx, req, a, js)
		}
	}
	return rep, nil
}

// Evaluate turns a raw model answer into a report: extract the item list,
// validate it and score every answer against the correct one.
func (s *Service) Evaluate(raw string) (*Report, error) {
	defer s.monitor.Start("extract")()

	var items []Item
	if err := util.ExtractInto(raw, &items); err != nil {
		return nil, apperr.ExternalService("model answer is not a grading list", err)
	}
	rep := &Report{Items: items}
	if err := validate.Struct(rep); err != nil {
		return nil, apperr.ExternalService("model answer is not a grading list", err)
	}

	for i := range rep.Items {
		it := &rep.Items[i]
		sim := util.Similarity(it.Answer, it.CorrectAnswer)
		it.Similarity = math.Round(sim*10000) / 10000
		it.Consistent = it.Result == (sim >= s.threshold)
		if it.Result {
			rep.Correct++
		}
		if !it.Consistent {
			rep.Inconsistent++
		}
	}
	rep.Total = len(rep.Items)
	return rep, nil
}

func (s *Service) ask(ctx context.Context, req Request) (answer, error) {
	if len(req.Image) == 0 {
		return answer{}, apperr.InvalidParams("image is required", nil)
	}
	mime := util.PickMIME(req.MIME, "", req.Image)
	if !util.IsImageMIME(mime) {
		return answer{}, apperr.InvalidParams(fmt.Sprintf("unsupported file type %q", mime), nil)
	}
	eng, err := s.engines.Get(req.Engine)
	if err != nil {
		return answer{}, err
	}
	a := answer{engine: eng, key: s.cacheKey(req.Image)}

	if s.cache != nil {
		row, err := s.cache.Find(ctx, a.key, eng.Name(), eng.Model(), s.cacheTTL)
		switch {
		case err == nil:
			a.raw, a.cached = row.RawText, row
			s.log.Debug("review cache hit", slog.String("engine", eng.Name()), slog.String("hash", a.key[:12]))
			return a, nil
		case !errors.Is(err, store.ErrNotFound):
			s.log.Warn("review cache lookup failed", slog.Any("err", err))
		}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	stop := s.monitor.Start("review." + eng.Name())
	raw, err := eng.Complete(ctx, req.Image, mime, s.prompt)
	d := stop()
	if err != nil {
		if !apperr.Is(err, apperr.ExternalServiceFailure) {
			err = apperr.ExternalService(eng.Name()+" request failed", err)
		}
		return answer{}, err
	}
	s.log.Info("model answered",
		slog.String("engine", eng.Name()),
		slog.String("model", eng.Model()),
		slog.Int("chars", len(raw)),
		slog.Duration("took", d),
	)
	a.raw = raw

	if s.cache != nil {
		s.store(ctx, req, a, nil)
	}
	return a, nil
}

// store writes the cache row. Failures are only logged.
func (s *Service) store(ctx context.Context, req Request, a answer, report json.RawMessage) {
	err := s.cache.Upsert(context.WithoutCancel(ctx), store.ReviewRow{
		ImageHash: a.key,
		Engine:    a.engine.Name(),
		Model:     a.engine.Model(),
		Source:    req.Source,
		ChatID:    req.ChatID,
		RawText:   a.raw,
		Report:    report,
	})
	if err != nil {
		s.log.Warn("review cache write failed", slog.Any("err", err))
	}
}

// cacheKey ties a cached answer to both the image and the prompt it answered.
func (s *Service) cacheKey(img []byte) string {
	h := sha256.New()
	h.Write(img)
	h.Write([]byte{0})
	h.Write([]byte(s.prompt))
	return hex.EncodeToString(h.Sum(nil))
}

func recordErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
