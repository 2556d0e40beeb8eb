// Package tracing wires OpenTelemetry distributed tracing around the
// recall and apply pipelines (spec §6.6), complementing the Prometheus
// counters in internal/metrics with span-level detail for a single
// recall or apply_proposal call. Grounded on pkg/tracing/tracing.go's
// TracingManager/exporter-selection shape and TraceableContext helper,
// narrowed from the four-exporter (jaeger/otlp/console) HTTP-middleware
// surface down to OTLP-only since mem-os has no inbound HTTP handlers
// to instrument — only the recall/apply call paths.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures distributed tracing for a workspace.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	SampleRate     float64
	BatchTimeout   time.Duration
	MaxBatchSize   int
	Headers        map[string]string
}

// DefaultConfig returns tracing disabled by default — a workspace opened
// for a one-off CLI invocation should not require a collector endpoint.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "mem-os",
		ServiceVersion: "v1",
		Environment:    "development",
		Endpoint:       "http://localhost:4318/v1/traces",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
		Headers:        map[string]string{},
	}
}

// Manager owns the OTLP exporter and tracer provider for one workspace.
type Manager struct {
	config   Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager creates a tracing manager. When config.Enabled is false the
// returned manager's tracer is a no-op, so instrumentation call sites
// never need their own enabled/disabled branch.
func NewManager(config Config, logger *logrus.Logger) (*Manager, error) {
	if !config.Enabled {
		return &Manager{config: config, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{config: config, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
	if len(m.config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
	}
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create trace resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(m.config.BatchTimeout),
			trace.WithMaxExportBatchSize(m.config.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.config.SampleRate)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	m.tracer = otel.Tracer(m.config.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"service_name": m.config.ServiceName,
		"endpoint":     m.config.Endpoint,
		"sample_rate":  m.config.SampleRate,
	}).Info("distributed tracing initialized")
	return nil
}

// Tracer returns the underlying OTel tracer.
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// Shutdown flushes and stops the tracer provider, a no-op when tracing
// was never enabled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// Context wraps a context.Context with its active span, so call sites
// don't need to juggle ctx and span as separate values through a call
// chain (recall -> corpus query -> per-block scoring, for example).
type Context struct {
	ctx    context.Context
	span   oteltrace.Span
	tracer oteltrace.Tracer
}

// Start begins a new span named operationName as a child of whatever
// span (if any) ctx already carries.
func Start(ctx context.Context, tracer oteltrace.Tracer, operationName string) *Context {
	ctx, span := tracer.Start(ctx, operationName)
	return &Context{ctx: ctx, span: span, tracer: tracer}
}

// Ctx returns the span-carrying context.Context, to pass to callees.
func (c *Context) Ctx() context.Context { return c.ctx }

// SetAttribute records a typed attribute on the active span.
func (c *Context) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue
	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}
	c.span.SetAttributes(attr)
}

// SetError records err on the active span and marks it as failed.
func (c *Context) SetError(err error) {
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
}

// End finalizes the span. It sets no status itself: the status is
// whatever SetError (or Instrumented.Run on success) already set.
func (c *Context) End() { c.span.End() }

// TraceID returns the active span's trace ID, or "" if none is set (the
// noop tracer produces an invalid span context).
func (c *Context) TraceID() string {
	if c.span.SpanContext().HasTraceID() {
		return c.span.SpanContext().TraceID().String()
	}
	return ""
}

// Instrumented wraps a named operation with span start/end, attribute
// recording, and error propagation, so call sites write plain functions
// instead of manually managing a Context.
type Instrumented struct {
	tracer oteltrace.Tracer
	name   string
}

// NewInstrumented builds an Instrumented helper for operation name under
// tracer.
func NewInstrumented(tracer oteltrace.Tracer, name string) *Instrumented {
	return &Instrumented{tracer: tracer, name: name}
}

// Run executes f inside a span, recording its duration and any error.
func (in *Instrumented) Run(ctx context.Context, f func(*Context) error) error {
	c := Start(ctx, in.tracer, in.name)
	defer c.End()

	start := time.Now()
	err := f(c)
	c.SetAttribute("duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		c.SetError(err)
		return err
	}
	c.span.SetStatus(codes.Ok, "completed")
	return nil
}
