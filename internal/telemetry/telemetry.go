// Package telemetry wires OpenTelemetry tracing and metrics for the
// execution core: one span per execution, plus counters covering started
// executions, step outcomes, and queue retries and a step duration histogram.
// Steps are recorded as metrics only; they get no span of their own.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "workflowcore.engine"
	meterName  = "workflowcore.engine"
)

// Config controls whether and where telemetry is exported.
type Config struct {
	Enabled        bool
	OTLPEndpoint   string
	ServiceVersion string
}

// Telemetry holds the tracer, meter, and counters the engine and executor
// use to record execution and step outcomes.
type Telemetry struct {
	provider *sdktrace.TracerProvider

	tracer trace.Tracer
	meter  metric.Meter

	executionsTotal  metric.Int64Counter
	executionsActive metric.Int64UpDownCounter
	stepsTotal        metric.Int64Counter
	stepDuration      metric.Float64Histogram
	retriesTotal      metric.Int64Counter
}

// New configures the OTLP HTTP exporter when cfg.Enabled and returns a
// Telemetry ready to record spans and metrics. When disabled, it still
// returns a usable no-export Telemetry backed by the global providers.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Enabled {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}

		version := cfg.ServiceVersion
		if version == "" {
			version = "dev"
		}

		res, err := resource.Merge(
			resource.Default(),
			resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName("workflowcore"),
				semconv.ServiceVersion(version),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("build otel resource: %w", err)
		}

		processor := sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(100),
		)
		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(processor),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)

		t, err := newFromGlobal()
		if err != nil {
			return nil, err
		}
		t.provider = provider
		return t, nil
	}

	return newFromGlobal()
}

func newFromGlobal() (*Telemetry, error) {
	t := &Telemetry{
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(meterName),
	}

	var err error
	t.executionsTotal, err = t.meter.Int64Counter(
		"workflowcore_executions_total",
		metric.WithDescription("Total number of workflow executions started"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create executions counter: %w", err)
	}

	t.executionsActive, err = t.meter.Int64UpDownCounter(
		"workflowcore_executions_active",
		metric.WithDescription("Number of executions currently running"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active executions counter: %w", err)
	}

	t.stepsTotal, err = t.meter.Int64Counter(
		"workflowcore_steps_total",
		metric.WithDescription("Total number of steps executed, by outcome"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create steps counter: %w", err)
	}

	t.stepDuration, err = t.meter.Float64Histogram(
		"workflowcore_step_duration_seconds",
		metric.WithDescription("Duration of step execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create step duration histogram: %w", err)
	}

	t.retriesTotal, err = t.meter.Int64Counter(
		"workflowcore_queue_retries_total",
		metric.WithDescription("Total number of queue row retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retries counter: %w", err)
	}

	return t, nil
}

// StartExecutionSpan starts the parent span for one execution run and
// records the start in the execution counters.
func (t *Telemetry) StartExecutionSpan(ctx context.Context, executionID, workflowName string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("execution.%s", workflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("workflow.name", workflowName),
		),
	)
	t.executionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.name", workflowName)))
	t.executionsActive.Add(ctx, 1)
	return ctx, span
}

// EndExecutionSpan closes an execution span with its terminal status.
func (t *Telemetry) EndExecutionSpan(span trace.Span, status string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("execution.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, status)
	}
	span.End()
	t.executionsActive.Add(context.Background(), -1)
}

// RecordStep records one step attempt's duration and outcome.
func (t *Telemetry) RecordStep(ctx context.Context, stepID, pluginID string, duration time.Duration, err error) {
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.String("plugin.id", pluginID),
		attribute.String("outcome", outcome),
	)
	t.stepsTotal.Add(ctx, 1, attrs)
	t.stepDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordRetry increments the queue retry counter for one task.
func (t *Telemetry) RecordRetry(ctx context.Context, taskID string) {
	t.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("task.id", taskID)))
}

// Shutdown flushes and stops the exporter, if one was configured.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// EndpointFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, defaulting to the
// standard local collector address.
func EndpointFromEnv() string {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		return v
	}
	return "http://localhost:4318"
}
