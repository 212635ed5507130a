package attribution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	attrerr "github.com/randalmurphal/attribution/pkg/attribution/errors"
	"github.com/randalmurphal/attribution/pkg/attribution/observability"
)

// Stage names, as they appear in logs, metrics, spans, and StageError.
const (
	StageLoadDecisions        = "load_decisions"
	StageLoadConversions      = "load_conversions"
	StageAttributeSubjects    = "attribute_subjects"
	StageAttributeConversions = "attribute_conversions"
	StageAggregate            = "aggregate"
	StageWrite                = "write"
)

// diagnosticSample bounds how many diagnostics are logged per dataset.
const diagnosticSample = 5

// Result is the full output of one run. It replaces any earlier output.
type Result struct {
	RunID      string `json:"run_id"`
	Policy     Policy `json:"policy"`
	SubjectKey string `json:"subject_key"`
	Window     Window `json:"window"`

	// Subjects are the exposures counted for the policy: first non-holdback
	// exposures for Full-Stack, the decision/conversion union for Web.
	Subjects     []SubjectAssignment `json:"subjects"`
	Attributions []AttributionRecord `json:"attributions"`

	// Exposures holds count_distinct_subjects per experiment and variation.
	Exposures []AggregateRow `json:"exposures"`
	// Conversions holds count_distinct_subjects, count_rows, and sum_revenue
	// per experiment, variation, and event.
	Conversions []AggregateRow `json:"conversions"`

	Report Report `json:"report"`
}

// ConversionMetrics are computed for every conversion group.
var ConversionMetrics = []Metric{MetricCountDistinctSubjects, MetricCountRows, MetricSumRevenue}

// Pipeline runs the engines end to end over an EventSource.
// A Pipeline holds no per-run state and may run concurrently.
type Pipeline struct {
	source  EventSource
	sink    ResultSink
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	retry   attrerr.RetryConfig
	runID   string
}

// NewPipeline creates a pipeline reading from source.
func NewPipeline(source EventSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:  source,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		retry:   attrerr.DefaultRetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run validates cfg, loads both datasets, attributes subjects and
// conversions under cfg.Policy, and aggregates the results.
//
// Configuration errors are returned before the source is read. A failed or
// cancelled run returns no Result and never reaches the sink.
func (p *Pipeline) Run(ctx context.Context, cfg Config) (*Result, error) {
	if p.source == nil {
		return nil, ErrNilSource
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SubjectKey == "" {
		cfg.SubjectKey = DefaultSubjectKey
	}

	runID := p.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	policy := string(cfg.Policy)
	logger := observability.EnrichLogger(p.logger, runID, policy)
	observability.LogRunStart(logger, cfg.SubjectKey, cfg.Window.Start, cfg.Window.End)

	ctx, span := p.spans.StartRunSpan(ctx, runID, policy)
	start := time.Now()
	done := observability.TimedOperation()

	result := &Result{
		RunID:      runID,
		Policy:     cfg.Policy,
		SubjectKey: cfg.SubjectKey,
		Window:     cfg.Window,
	}
	stage, err := p.execute(ctx, cfg, logger, result)

	p.metrics.RecordRun(ctx, policy, err == nil, time.Since(start))
	p.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogRunError(logger, err, done(), stage)
		return nil, err
	}
	observability.LogRunComplete(logger, done(), len(result.Subjects), len(result.Attributions), result.Report.Skipped())
	return result, nil
}

// execute runs the stages in order and returns the name of the last stage attempted.
func (p *Pipeline) execute(ctx context.Context, cfg Config, logger *slog.Logger, result *Result) (string, error) {
	var (
		decisions   []Decision
		conversions []Conversion
	)

	err := p.stage(ctx, logger, StageLoadDecisions, func(ctx context.Context) (int, error) {
		var err error
		decisions, err = load(ctx, p, logger, StageLoadDecisions, cfg.Window, p.source.Decisions)
		return len(decisions), err
	})
	if err != nil {
		return StageLoadDecisions, err
	}

	err = p.stage(ctx, logger, StageLoadConversions, func(ctx context.Context) (int, error) {
		var err error
		conversions, err = load(ctx, p, logger, StageLoadConversions, cfg.Window, p.source.Conversions)
		return len(conversions), err
	})
	if err != nil {
		return StageLoadConversions, err
	}

	err = p.stage(ctx, logger, StageAttributeSubjects, func(ctx context.Context) (int, error) {
		var (
			report Report
			err    error
		)
		if cfg.Policy == PolicyFullStack {
			result.Subjects, report, err = AttributeSubjectsExcludingHoldback(decisions, cfg)
		} else {
			result.Subjects, report, err = AttributeWebSubjects(decisions, conversions, cfg)
		}
		if err != nil {
			return 0, err
		}
		// Conversion diagnostics are reported by the next stage.
		result.Report = result.Report.Merge(report.Only(DatasetDecisions))
		return len(result.Subjects), ctx.Err()
	})
	if err != nil {
		return StageAttributeSubjects, err
	}

	err = p.stage(ctx, logger, StageAttributeConversions, func(ctx context.Context) (int, error) {
		var (
			report Report
			err    error
		)
		if cfg.Policy == PolicyFullStack {
			result.Attributions, report, err = AttributeConversionsFromAssignments(conversions, result.Subjects, cfg)
		} else {
			result.Attributions, report, err = AttributeConversions(conversions, nil, cfg)
		}
		if err != nil {
			return 0, err
		}
		result.Report = result.Report.Merge(report)
		p.metrics.RecordAttributed(ctx, string(cfg.Policy), len(result.Attributions))
		return len(result.Attributions), ctx.Err()
	})
	if err != nil {
		return StageAttributeConversions, err
	}

	for _, ds := range []Dataset{DatasetDecisions, DatasetConversions} {
		only := result.Report.Only(ds)
		p.metrics.RecordSkipped(ctx, string(ds), only.Skipped())
		observability.LogSkipped(logger, string(ds), only.Skipped(), sample(only))
	}

	err = p.stage(ctx, logger, StageAggregate, func(ctx context.Context) (int, error) {
		var err error
		result.Exposures, err = AggregateParallel(ctx, result.Subjects, ExposureGroupBy,
			[]Metric{MetricCountDistinctSubjects}, cfg.Workers)
		if err != nil {
			return 0, err
		}
		result.Conversions, err = AggregateParallel(ctx, result.Attributions, ConversionGroupBy,
			ConversionMetrics, cfg.Workers)
		if err != nil {
			return 0, err
		}
		return len(result.Exposures) + len(result.Conversions), nil
	})
	if err != nil {
		return StageAggregate, err
	}

	if p.sink == nil {
		return StageAggregate, nil
	}
	err = p.stage(ctx, logger, StageWrite, func(ctx context.Context) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return len(result.Exposures) + len(result.Conversions), p.sink.Replace(ctx, result)
	})
	return StageWrite, err
}

// stage wraps one step with a span, a latency metric, and a debug log line.
func (p *Pipeline) stage(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	fn func(ctx context.Context) (int, error),
) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	stageCtx, span := p.spans.StartStageSpan(ctx, name)
	start := time.Now()
	n, err := fn(stageCtx)
	elapsed := time.Since(start)
	p.metrics.RecordStage(ctx, name, elapsed, err)
	p.spans.EndSpanWithError(span, err)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	observability.LogStageComplete(logger, name, float64(elapsed.Microseconds())/1000, n)
	return nil
}

// load reads one dataset, retrying transient source failures.
func load[T any](
	ctx context.Context,
	p *Pipeline,
	logger *slog.Logger,
	op string,
	window Window,
	read func(context.Context, Window) ([]T, error),
) ([]T, error) {
	records, attempts, err := attrerr.Do(ctx, p.retry, op, func(ctx context.Context) ([]T, error) {
		return read(ctx, window)
	})
	if attempts > 1 {
		observability.LogRetry(logger, op, attempts, err)
	}
	return records, err
}

func sample(r Report) []string {
	n := min(len(r.Diagnostics), diagnosticSample)
	out := make([]string, 0, n)
	for _, d := range r.Diagnostics[:n] {
		out = append(out, d.String())
	}
	return out
}
