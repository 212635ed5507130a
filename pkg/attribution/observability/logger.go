// Package observability provides logging, metrics, and tracing for
// attribution runs.
//
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing have no-op implementations for when they are disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
//
//	logger = EnrichLogger(logger, "run-123", "full_stack")
//	logger.Info("loading") // includes run_id and policy
func EnrichLogger(logger *slog.Logger, runID, policy string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("policy", policy),
	)
}

// LogRunStart logs the start of an attribution run.
func LogRunStart(logger *slog.Logger, subjectKey string, start, end time.Time) {
	if logger == nil {
		return
	}
	logger.Info("attribution run starting",
		slog.String("subject_key", subjectKey),
		slog.String("window_start", formatBound(start)),
		slog.String("window_end", formatBound(end)),
	)
}

// LogRunComplete logs a successful run.
func LogRunComplete(logger *slog.Logger, durationMs float64, subjects, attributed, skipped int) {
	if logger == nil {
		return
	}
	logger.Info("attribution run completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("subjects", subjects),
		slog.Int("attributed", attributed),
		slog.Int("skipped", skipped),
	)
}

// LogRunError logs a failed run. No output is written for failed runs.
func LogRunError(logger *slog.Logger, err error, durationMs float64, stage string) {
	if logger == nil {
		return
	}
	logger.Error("attribution run failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("stage", stage),
	)
}

// LogStageComplete logs one finished pipeline stage.
func LogStageComplete(logger *slog.Logger, stage string, durationMs float64, records int) {
	if logger == nil {
		return
	}
	logger.Debug("stage completed",
		slog.String("stage", stage),
		slog.Float64("duration_ms", durationMs),
		slog.Int("records", records),
	)
}

// LogSkipped warns about malformed records skipped in a dataset.
// sample is a handful of diagnostics rendered as strings.
func LogSkipped(logger *slog.Logger, dataset string, count int, sample []string) {
	if logger == nil || count == 0 {
		return
	}
	logger.Warn("skipped malformed records",
		slog.String("dataset", dataset),
		slog.Int("count", count),
		slog.Any("sample", sample),
	)
}

// LogRetry logs a source read that needed more than one attempt.
// err is the final error, nil when a later attempt succeeded.
func LogRetry(logger *slog.Logger, op string, attempts int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("source read failed after retries",
			slog.String("operation", op),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("source read recovered after retries",
		slog.String("operation", op),
		slog.Int("attempts", attempts),
	)
}

// TimedOperation returns a func reporting milliseconds elapsed since the call.
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "unbounded"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
