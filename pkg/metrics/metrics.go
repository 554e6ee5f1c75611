// Package metrics holds the process-wide OpenTelemetry instruments the
// REST Facade exposes at GET /metrics, instrumenting the Session
// Supervisor, Risk Gate, and Job Queue. Collection is backed by the OTel
// SDK's metric.Reader/MeterProvider rather than raw promauto collectors,
// with the Prometheus exporter bridging the result back onto the
// default Prometheus registry so GET /metrics keeps scraping the same
// text-exposition format it always has.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds every instrument mcpbridge records against, plus the
// MeterProvider backing them so Shutdown can flush cleanly at process
// exit.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	toolCallsTotal     metric.Int64Counter
	toolCallDuration   metric.Float64Histogram
	confirmationsTotal metric.Int64Counter
	backendsConnected  metric.Int64UpDownCounter
	jobsEnqueuedTotal  metric.Int64Counter
	jobsInFlight       metric.Int64UpDownCounter
}

// Get returns the process-wide Metrics, building its MeterProvider and
// registering the Prometheus exporter on first use.
func Get() *Metrics {
	once.Do(func() {
		global = build()
	})
	return global
}

func build() *Metrics {
	exporter, err := prometheus.New()
	if err != nil {
		// The exporter only fails to construct when it cannot register its
		// collector with the Prometheus registry, which would mean a second
		// mcpbridge Metrics instance already exists in this process.
		panic(fmt.Sprintf("metrics: building prometheus exporter: %v", err))
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName("mcpbridge")))
	if err != nil {
		res = resource.Default()
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter("github.com/open-mcp/mcpbridge/pkg/metrics")

	return &Metrics{
		provider: provider,

		toolCallsTotal: must(meter.Int64Counter(
			"mcpbridge_tool_calls_total",
			metric.WithDescription("Total number of tools/call invocations by backend id and risk level."),
		)),
		toolCallDuration: must(meter.Float64Histogram(
			"mcpbridge_tool_call_duration_seconds",
			metric.WithDescription("Duration of tools/call round trips to a backend."),
			metric.WithUnit("s"),
		)),
		confirmationsTotal: must(meter.Int64Counter(
			"mcpbridge_confirmations_total",
			metric.WithDescription("Total number of Medium-risk confirmations issued, by decision."),
		)),
		backendsConnected: must(meter.Int64UpDownCounter(
			"mcpbridge_backends_connected",
			metric.WithDescription("Number of backend sessions currently initialized."),
		)),
		jobsEnqueuedTotal: must(meter.Int64Counter(
			"mcpbridge_jobs_enqueued_total",
			metric.WithDescription("Total number of asynchronous jobs enqueued, by dispatch mode."),
		)),
		jobsInFlight: must(meter.Int64UpDownCounter(
			"mcpbridge_jobs_in_flight",
			metric.WithDescription("Number of jobs currently QUEUED or PROCESSING."),
		)),
	}
}

func must[T any](instrument T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("metrics: registering instrument: %v", err))
	}
	return instrument
}

// IncBackendsConnected records a backend session completing its
// initialize handshake.
func (m *Metrics) IncBackendsConnected(ctx context.Context) {
	m.backendsConnected.Add(ctx, 1)
}

// DecBackendsConnected records a backend session stopping.
func (m *Metrics) DecBackendsConnected(ctx context.Context) {
	m.backendsConnected.Add(ctx, -1)
}

// RecordToolCall records one tools/call round trip's duration and
// outcome against backendID.
func (m *Metrics) RecordToolCall(ctx context.Context, backendID, riskLevel, outcome string, duration time.Duration) {
	m.toolCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("backend_id", backendID),
	))
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend_id", backendID),
		attribute.String("risk_level", riskLevel),
		attribute.String("outcome", outcome),
	))
}

// IncConfirmation records a Risk Gate confirmation reaching decision
// ("issued", "confirmed", "rejected", or "expired").
func (m *Metrics) IncConfirmation(ctx context.Context, decision string) {
	m.confirmationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
	))
}

// IncJobEnqueued records a Job Queue enqueue in the given dispatch mode
// ("registered", "discover", or "dynamic").
func (m *Metrics) IncJobEnqueued(ctx context.Context, mode string) {
	m.jobsEnqueuedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
	))
}

// IncJobsInFlight records a job entering QUEUED or PROCESSING state.
func (m *Metrics) IncJobsInFlight(ctx context.Context) {
	m.jobsInFlight.Add(ctx, 1)
}

// DecJobsInFlight records a job leaving QUEUED/PROCESSING for a
// terminal state.
func (m *Metrics) DecJobsInFlight(ctx context.Context) {
	m.jobsInFlight.Add(ctx, -1)
}

// Shutdown flushes and closes the underlying MeterProvider. Intended to
// be called once, alongside the Supervisor's own Shutdown, during
// process termination.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
