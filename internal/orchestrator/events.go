package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/toolmind/pkg/harnessports"
)

// ZerologEmitter logs every event as a structured line. It is the default
// Emitter when no tracing backend is configured.
type ZerologEmitter struct {
	logger zerolog.Logger
}

// NewZerologEmitter builds an Emitter backed by the given logger.
func NewZerologEmitter(logger zerolog.Logger) *ZerologEmitter {
	return &ZerologEmitter{logger: logger.With().Str("component", "emitter").Logger()}
}

// Emit implements Emitter.
func (e *ZerologEmitter) Emit(_ context.Context, event Event) {
	entry := e.logger.Info()
	if event.Kind == EventErrorOccurred {
		entry = e.logger.Error()
	}
	entry.
		Str("kind", string(event.Kind)).
		Str("orchestration_id", event.OrchestrationID.String()).
		Str("tool_name", event.ToolName).
		Float64("confidence", event.Confidence).
		Time("timestamp", event.Timestamp).
		Msg(event.Message)
}

var _ Emitter = (*ZerologEmitter)(nil)

// StartSpan implements harnessports.Tracer: a span is a pair of log lines
// (start/finish) rather than a tree, since zerolog has no span concept of
// its own — this is the same shape the teacher's ZerologTracer adapter used.
func (e *ZerologEmitter) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	start := time.Now()
	entry := e.logger.Info().Str("span", name)
	for k, v := range attrs {
		entry = entry.Interface(k, v)
	}
	entry.Msg("span started")

	return ctx, func(err error) {
		finish := e.logger.Info()
		if err != nil {
			finish = e.logger.Error().Err(err)
		}
		finish.Str("span", name).Dur("duration", time.Since(start)).Msg("span finished")
	}
}

// Event implements harnessports.Tracer.
func (e *ZerologEmitter) Event(_ context.Context, name string, attrs map[string]any) {
	entry := e.logger.Info().Str("event", name)
	for k, v := range attrs {
		entry = entry.Interface(k, v)
	}
	entry.Msg("traced event")
}

var _ harnessports.Tracer = (*ZerologEmitter)(nil)

// OTelEmitter mirrors events as spans/events on an OpenTelemetry tracer,
// alongside (not instead of) the structured log line a consumer may also
// want; callers compose the two via a MultiEmitter if they need both.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter builds an Emitter backed by an OTel tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter.
func (e *OTelEmitter) Emit(ctx context.Context, event Event) {
	_, span := e.tracer.Start(ctx, string(event.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("orchestration_id", event.OrchestrationID.String()),
		attribute.String("tool_name", event.ToolName),
		attribute.Float64("confidence", event.Confidence),
	)
	span.AddEvent(event.Message)
}

var _ Emitter = (*OTelEmitter)(nil)

// MultiEmitter fans a single event out to every configured Emitter.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter builds an Emitter that forwards to all of emitters.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit implements Emitter.
func (e *MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, em := range e.emitters {
		em.Emit(ctx, event)
	}
}

var _ Emitter = (*MultiEmitter)(nil)
