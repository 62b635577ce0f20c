package observability

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys
const (
	GlyphNameAttributeKey     = attribute.Key("glyph.name")
	EditOperationAttributeKey = attribute.Key("edit.operation")
	ConnectionAttributeKey    = attribute.Key("connection.id")
)

// Span status codes accepted by Span.SetStatus
const (
	StatusUnset = 0
	StatusOK    = 1
	StatusError = 2
)

var tracer atomic.Pointer[trace.Tracer]

// SetTracer replaces the tracer used by StartSpan and TraceEdit.
func SetTracer(t trace.Tracer) {
	tracer.Store(&t)
}

// GetTracer returns the installed tracer, or a noop tracer before
// InitTracing or SetTracer.
func GetTracer() trace.Tracer {
	if t := tracer.Load(); t != nil {
		return *t
	}
	return noop.NewTracerProvider().Tracer("")
}

// InitTracing exports spans over OTLP gRPC and returns the function that
// flushes and stops the exporter. Disabled tracing returns a no-op.
func InitTracing(cfg TracingConfig) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fontedit"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	SetTracer(provider.Tracer(cfg.ServiceName))

	log.Printf("Tracing initialized with service name: %s, environment: %s", cfg.ServiceName, cfg.Environment)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
		_ = conn.Close()
	}, nil
}

// StartSpan starts a span named name.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := GetTracer().Start(ctx, name)
	return ctx, otelSpan{span}
}

// TraceEdit starts a span for one edit step on a glyph. The span is named
// "edit.<operation>".
func TraceEdit(ctx context.Context, operation, glyphName string) (context.Context, Span) {
	ctx, span := GetTracer().Start(ctx, "edit."+operation, trace.WithAttributes(
		EditOperationAttributeKey.String(operation),
		GlyphNameAttributeKey.String(glyphName),
	))
	return ctx, otelSpan{span}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		otelSpan{trace.SpanFromContext(ctx)}.RecordError(err)
	}
}

type otelSpan struct {
	trace.Span
}

func (s otelSpan) SetAttribute(key string, value interface{}) {
	s.SetAttributes(attributeOf(key, value))
}

func (s otelSpan) AddEvent(name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attributeOf(k, v))
	}
	s.Span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records err and sets the span status to Error.
func (s otelSpan) RecordError(err error) {
	s.Span.RecordError(err)
	s.Span.SetStatus(codes.Error, err.Error())
}

func (s otelSpan) SetStatus(code int, description string) {
	switch code {
	case StatusOK:
		s.Span.SetStatus(codes.Ok, description)
	case StatusError:
		s.Span.SetStatus(codes.Error, description)
	default:
		s.Span.SetStatus(codes.Unset, description)
	}
}

func (s otelSpan) End() {
	s.Span.End()
}

func attributeOf(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
