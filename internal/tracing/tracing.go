package tracing

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/amaumene/acerpal"

// NewProvider creates a tracer provider that reports finished spans to the logger
// at debug level, plus any extra processors (used by tests to record spans)
func NewProvider(logger *logrus.Logger, extra ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	}
	for _, p := range extra {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer returns the tracer used across the service
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// RecordError marks the span as failed
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// logProcessor writes one log line per finished span
type logProcessor struct {
	logger *logrus.Logger
}

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !p.logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	fields := logrus.Fields{
		"span":        s.Name(),
		"trace_id":    s.SpanContext().TraceID().String(),
		"duration_ms": s.EndTime().Sub(s.StartTime()).Milliseconds(),
	}
	for _, kv := range s.Attributes() {
		fields[string(kv.Key)] = kv.Value.Emit()
	}
	if s.Status().Code == codes.Error {
		fields["error"] = s.Status().Description
	}
	p.logger.WithFields(fields).Debug("Span finished")
}

func (p *logProcessor) Shutdown(context.Context) error   { return nil }
func (p *logProcessor) ForceFlush(context.Context) error { return nil }

// Attribute keys shared by spans
var (
	JobIDKey     = attribute.Key("job.id")
	FilenameKey  = attribute.Key("job.filename")
	OperationKey = attribute.Key("upstream.operation")
	HTTPURLKey   = attribute.Key("http.url")
	HTTPCodeKey  = attribute.Key("http.status_code")
	BytesKey     = attribute.Key("job.bytes")
)
