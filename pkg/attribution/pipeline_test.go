package attribution_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randalmurphal/attribution/pkg/attribution"
	attrerr "github.com/randalmurphal/attribution/pkg/attribution/errors"
	"github.com/randalmurphal/attribution/pkg/attribution/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fastRetry = attrerr.NewRetryConfig(
	attrerr.WithMaxAttempts(3),
	attrerr.WithInitialBackoff(time.Millisecond),
	attrerr.WithMaxBackoff(5*time.Millisecond),
	attrerr.WithJitter(0),
)

// scriptedSource wraps a MemoryStore, failing or intercepting reads.
type scriptedSource struct {
	*store.MemoryStore
	decisionReads atomic.Int32
	failures      int32
	failWith      error
	stalls        int32
	onDecisions   func()
}

func (s *scriptedSource) Decisions(ctx context.Context, w attribution.Window) ([]attribution.Decision, error) {
	n := s.decisionReads.Add(1)
	if n <= s.stalls {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= s.failures {
		return nil, s.failWith
	}
	if s.onDecisions != nil {
		s.onDecisions()
	}
	return s.MemoryStore.Decisions(ctx, w)
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.AppendDecisions(
		decision("u1", "exp", "a", 1),
		decision("u2", "exp", "b", 2),
		holdback(decision("u3", "exp", "a", 3)),
		decision("u4", "exp", "b", 30),
	))
	require.NoError(t, st.AppendConversions(
		withRevenue(conversion("u1", "purchase", 5, ref("exp", "a")), 100),
		conversion("u2", "purchase", 6, ref("exp", "b")),
		withRevenue(conversion("u1", "purchase", 7, ref("exp", "a")), 50),
		withRevenue(conversion("u3", "purchase", 8, ref("exp", "a")), 70),
	))
	return st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// TestPipeline_FullStack verifies an end-to-end Full-Stack run.
func TestPipeline_FullStack(t *testing.T) {
	st := seededStore(t)
	p := attribution.NewPipeline(st,
		attribution.WithLogger(discardLogger()),
		attribution.WithSink(st),
		attribution.WithRunID("run-1"),
	)

	result, err := p.Run(context.Background(), fullStack(0, 20))
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, attribution.PolicyFullStack, result.Policy)
	assert.Len(t, result.Subjects, 2)
	assert.Len(t, result.Attributions, 3)
	assert.Equal(t, []attribution.AggregateRow{
		{ExperimentID: "exp", VariationID: "a", Metric: attribution.MetricCountDistinctSubjects, Value: 1},
		{ExperimentID: "exp", VariationID: "b", Metric: attribution.MetricCountDistinctSubjects, Value: 1},
	}, result.Exposures)
	assert.Equal(t, []attribution.AggregateRow{
		{ExperimentID: "exp", VariationID: "a", EventName: "purchase", Metric: attribution.MetricCountDistinctSubjects, Value: 1},
		{ExperimentID: "exp", VariationID: "a", EventName: "purchase", Metric: attribution.MetricCountRows, Value: 2},
		{ExperimentID: "exp", VariationID: "a", EventName: "purchase", Metric: attribution.MetricSumRevenue, Value: 150},
		{ExperimentID: "exp", VariationID: "b", EventName: "purchase", Metric: attribution.MetricCountDistinctSubjects, Value: 1},
		{ExperimentID: "exp", VariationID: "b", EventName: "purchase", Metric: attribution.MetricCountRows, Value: 1},
		{ExperimentID: "exp", VariationID: "b", EventName: "purchase", Metric: attribution.MetricSumRevenue, Value: 0},
	}, result.Conversions)

	latest, ok := st.Latest()
	require.True(t, ok)
	assert.Equal(t, result.Conversions, latest.Conversions)
	assert.Equal(t, 1, st.Replacements())
}

// TestPipeline_Web verifies Web counts holdback subjects seen by conversions.
func TestPipeline_Web(t *testing.T) {
	st := seededStore(t)
	p := attribution.NewPipeline(st, attribution.WithLogger(discardLogger()))

	result, err := p.Run(context.Background(), web(0, 20))
	require.NoError(t, err)

	assert.Len(t, result.Subjects, 3)
	assert.Len(t, result.Attributions, 4)
	assert.Equal(t, int64(2), result.Exposures[0].Value, "exp/a has u1 and u3")
}

// TestPipeline_ValidatesBeforeReading verifies configuration errors never touch the source.
func TestPipeline_ValidatesBeforeReading(t *testing.T) {
	tests := []struct {
		name string
		cfg  attribution.Config
		want error
	}{
		{"no policy", attribution.DefaultConfig(), attribution.ErrUnknownPolicy},
		{"inverted window", fullStack(20, 10), attribution.ErrInvalidWindow},
		{"unknown subject key", func() attribution.Config {
			c := web(0, 10)
			c.SubjectKey = "cookie"
			return c
		}(), attribution.ErrMissingField},
		{"bad segment", func() attribution.Config {
			c := web(0, 10)
			c.Segment = "((("
			return c
		}(), attribution.ErrInvalidSegment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{MemoryStore: seededStore(t)}
			result, err := attribution.NewPipeline(src, attribution.WithLogger(discardLogger())).
				Run(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, result)
			assert.Zero(t, src.decisionReads.Load())
			assert.True(t, attrerr.IsInvalidInput(err))
		})
	}
}

// TestPipeline_NilSource verifies a pipeline without a source fails.
func TestPipeline_NilSource(t *testing.T) {
	_, err := attribution.NewPipeline(nil).Run(context.Background(), web(0, 10))
	assert.ErrorIs(t, err, attribution.ErrNilSource)
}

// TestPipeline_RetriesTransientReads verifies transient source errors are retried.
func TestPipeline_RetriesTransientReads(t *testing.T) {
	src := &scriptedSource{
		MemoryStore: seededStore(t),
		failures:    2,
		failWith:    attrerr.Transient(errors.New("database is locked"), "read decisions"),
	}
	p := attribution.NewPipeline(src,
		attribution.WithLogger(discardLogger()),
		attribution.WithRetry(fastRetry),
	)

	result, err := p.Run(context.Background(), fullStack(0, 20))
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.decisionReads.Load())
	assert.Len(t, result.Subjects, 2)
}

// TestPipeline_AttemptTimeout verifies a stalled read is abandoned after the
// attempt timeout and retried.
func TestPipeline_AttemptTimeout(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		src := &scriptedSource{MemoryStore: seededStore(t), stalls: 1}
		retry := fastRetry
		retry.AttemptTimeout = 20 * time.Millisecond

		result, err := attribution.NewPipeline(src,
			attribution.WithLogger(discardLogger()),
			attribution.WithRetry(retry),
		).Run(context.Background(), fullStack(0, 20))
		require.NoError(t, err)
		assert.Equal(t, int32(2), src.decisionReads.Load())
		assert.Len(t, result.Subjects, 2)
	})

	t.Run("gives up", func(t *testing.T) {
		src := &scriptedSource{MemoryStore: seededStore(t), stalls: 10}
		retry := fastRetry
		retry.AttemptTimeout = 10 * time.Millisecond

		_, err := attribution.NewPipeline(src,
			attribution.WithLogger(discardLogger()),
			attribution.WithRetry(retry),
		).Run(context.Background(), fullStack(0, 20))
		require.Error(t, err)
		assert.Equal(t, int32(3), src.decisionReads.Load())

		var timeoutErr *attrerr.TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, attribution.StageLoadDecisions, timeoutErr.Operation)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// TestPipeline_PermanentReadFailure verifies permanent errors stop the run at once.
func TestPipeline_PermanentReadFailure(t *testing.T) {
	st := seededStore(t)
	src := &scriptedSource{
		MemoryStore: st,
		failures:    10,
		failWith:    errors.New("no such table: decisions"),
	}
	p := attribution.NewPipeline(src,
		attribution.WithLogger(discardLogger()),
		attribution.WithRetry(fastRetry),
		attribution.WithSink(st),
	)

	result, err := p.Run(context.Background(), fullStack(0, 20))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int32(1), src.decisionReads.Load())

	var stageErr *attribution.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, attribution.StageLoadDecisions, stageErr.Stage)
	assert.Zero(t, st.Replacements())
}

// TestPipeline_Cancelled verifies a cancelled run writes nothing.
func TestPipeline_Cancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		st := seededStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := attribution.NewPipeline(st,
			attribution.WithLogger(discardLogger()),
			attribution.WithSink(st),
		).Run(ctx, fullStack(0, 20))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, result)
		assert.Zero(t, st.Replacements())
	})

	t.Run("during read", func(t *testing.T) {
		st := seededStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		src := &scriptedSource{MemoryStore: st, onDecisions: cancel}

		result, err := attribution.NewPipeline(src,
			attribution.WithLogger(discardLogger()),
			attribution.WithSink(st),
		).Run(ctx, fullStack(0, 20))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, result)
		assert.Zero(t, st.Replacements())
	})
}

// TestPipeline_Deterministic verifies repeated runs produce byte-identical aggregates.
func TestPipeline_Deterministic(t *testing.T) {
	st := seededStore(t)
	p := attribution.NewPipeline(st, attribution.WithLogger(discardLogger()))

	for _, cfg := range []attribution.Config{fullStack(0, 20), web(0, 20)} {
		first, err := p.Run(context.Background(), cfg)
		require.NoError(t, err)
		second, err := p.Run(context.Background(), cfg)
		require.NoError(t, err)

		a, err := json.Marshal([]any{first.Exposures, first.Conversions, first.Attributions})
		require.NoError(t, err)
		b, err := json.Marshal([]any{second.Exposures, second.Conversions, second.Attributions})
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
}

// TestPipeline_ReportsEachSkipOnce verifies diagnostics are not duplicated across stages.
func TestPipeline_ReportsEachSkipOnce(t *testing.T) {
	st := seededStore(t)
	require.NoError(t, st.AppendDecisions(attribution.Decision{VisitorID: "u9", ExperimentID: "exp", VariationID: "a"}))
	require.NoError(t, st.AppendConversions(attribution.Conversion{VisitorID: "u9", EventName: "purchase", Timestamp: at(9)}))

	for _, cfg := range []attribution.Config{fullStack(0, 20), web(0, 20)} {
		t.Run(string(cfg.Policy), func(t *testing.T) {
			result, err := attribution.NewPipeline(st, attribution.WithLogger(discardLogger())).
				Run(context.Background(), cfg)
			require.NoError(t, err)
			assert.Equal(t, 1, result.Report.SkippedIn(attribution.DatasetDecisions))
			if cfg.Policy == attribution.PolicyWeb {
				assert.Equal(t, 1, result.Report.SkippedIn(attribution.DatasetConversions))
			} else {
				// Full-Stack never reads attributed_experiments.
				assert.Zero(t, result.Report.SkippedIn(attribution.DatasetConversions))
			}
		})
	}
}

// TestPipeline_ReplacesPreviousOutput verifies the sink holds only the latest run.
func TestPipeline_ReplacesPreviousOutput(t *testing.T) {
	st := seededStore(t)
	p := attribution.NewPipeline(st, attribution.WithLogger(discardLogger()), attribution.WithSink(st))

	_, err := p.Run(context.Background(), web(0, 20))
	require.NoError(t, err)
	second, err := p.Run(context.Background(), fullStack(0, 5))
	require.NoError(t, err)

	latest, ok := st.Latest()
	require.True(t, ok)
	assert.Equal(t, second.RunID, latest.RunID)
	assert.Equal(t, attribution.PolicyFullStack, latest.Policy)
	assert.Equal(t, 2, st.Replacements())
}

// TestPipeline_Logging verifies run lines carry the run id.
func TestPipeline_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := attribution.NewPipeline(seededStore(t),
		attribution.WithLogger(logger),
		attribution.WithRunID("run-log"),
	).Run(context.Background(), fullStack(0, 20))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-log"`)
	assert.Contains(t, out, `"policy":"full_stack"`)
	assert.Contains(t, out, attribution.StageAggregate)
}
