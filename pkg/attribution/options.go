package attribution

import (
	"log/slog"

	attrerr "github.com/randalmurphal/attribution/pkg/attribution/errors"
	"github.com/randalmurphal/attribution/pkg/attribution/observability"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics{}.
//
//	attribution.NewPipeline(src, attribution.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithSpanManager sets the tracer. Default: observability.NoopSpanManager{}.
func WithSpanManager(s observability.SpanManager) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.spans = s
		}
	}
}

// WithSink writes the output of every successful run to sink.
func WithSink(sink ResultSink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

// WithRetry sets the retry policy for source reads. Default: errors.DefaultRetry.
func WithRetry(cfg attrerr.RetryConfig) Option {
	return func(p *Pipeline) {
		p.retry = cfg
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		p.runID = id
	}
}
