package vision

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "homework-review/vision"

// Traced records a span around every Complete call.
type Traced struct {
	Engine
	tracer trace.Tracer
}

// Trace wraps e with spans from the global tracer provider.
func Trace(e Engine) Engine {
	return &Traced{Engine: e, tracer: otel.Tracer(tracerName)}
}

func (t *Traced) Complete(ctx context.Context, img []byte, mime, prompt string) (string, error) {
	ctx, span := t.tracer.Start(ctx, "vision.Complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("vision.engine", t.Name()),
			attribute.String("vision.model", t.Model()),
			attribute.String("vision.mime", mime),
			attribute.Int("vision.image_bytes", len(img)),
		))
	defer span.End()

	out, err := t.Engine.Complete(ctx, img, mime, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("vision.answer_chars", len(out)))
	return out, nil
}
