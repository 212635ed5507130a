package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records attribution metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStage records one pipeline stage with its duration and error status.
	RecordStage(ctx context.Context, stage string, duration time.Duration, err error)

	// RecordRun records a finished run.
	RecordRun(ctx context.Context, policy string, success bool, duration time.Duration)

	// RecordSkipped records malformed records skipped in a dataset.
	RecordSkipped(ctx context.Context, dataset string, count int)

	// RecordAttributed records how many attribution records a policy produced.
	RecordAttributed(ctx context.Context, policy string, count int)
}

type otelMetrics struct {
	runs         metric.Int64Counter
	runLatency   metric.Float64Histogram
	stageLatency metric.Float64Histogram
	stageErrors  metric.Int64Counter
	skipped      metric.Int64Counter
	attributed   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("attribution")

	runs, err := meter.Int64Counter("attribution.run.count",
		metric.WithDescription("Number of attribution runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("attribution.run.latency_ms",
		metric.WithDescription("Attribution run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("attribution.stage.latency_ms",
		metric.WithDescription("Pipeline stage latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageErrors, err := meter.Int64Counter("attribution.stage.errors",
		metric.WithDescription("Number of failed pipeline stages"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("attribution.records.skipped",
		metric.WithDescription("Malformed input records skipped"),
	)
	if err != nil {
		return nil, err
	}

	attributed, err := meter.Int64Counter("attribution.records.attributed",
		metric.WithDescription("Attribution records produced"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		runs:         runs,
		runLatency:   runLatency,
		stageLatency: stageLatency,
		stageErrors:  stageErrors,
		skipped:      skipped,
		attributed:   attributed,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider, or a no-op recorder if instrument creation fails.
// Set the provider before calling:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.stageLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordRun(ctx context.Context, policy string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.Bool("success", success),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (m *otelMetrics) RecordSkipped(ctx context.Context, dataset string, count int) {
	if count == 0 {
		return
	}
	m.skipped.Add(ctx, int64(count), metric.WithAttributes(attribute.String("dataset", dataset)))
}

func (m *otelMetrics) RecordAttributed(ctx context.Context, policy string, count int) {
	m.attributed.Add(ctx, int64(count), metric.WithAttributes(attribute.String("policy", policy)))
}
