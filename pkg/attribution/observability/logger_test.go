package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// lines decodes each JSON log line.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := EnrichLogger(jsonLogger(&buf), "run-1", "web")
	logger.Info("hello")

	entries := lines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0]["run_id"])
	assert.Equal(t, "web", entries[0]["policy"])

	assert.Nil(t, EnrichLogger(nil, "run-1", "web"))
}

func TestLogRunLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	LogRunStart(logger, "visitor_id", start, time.Time{})
	LogRunComplete(logger, 12.5, 10, 4, 1)
	LogRunError(logger, errors.New("boom"), 3, "aggregate")

	entries := lines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "2024-01-01T00:00:00Z", entries[0]["window_start"])
	assert.Equal(t, "unbounded", entries[0]["window_end"])
	assert.Equal(t, "ERROR", entries[2]["level"])
	assert.Equal(t, "boom", entries[2]["error"])
	assert.Equal(t, "aggregate", entries[2]["stage"])
}

func TestLogSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	LogSkipped(logger, "decisions", 0, nil)
	assert.Zero(t, buf.Len())

	LogSkipped(logger, "decisions", 2, []string{"decisions[0]: missing timestamp"})
	entries := lines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, float64(2), entries[0]["count"])
}

func TestLogRetry(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf)

	LogRetry(logger, "load_decisions", 2, nil)
	LogRetry(logger, "load_decisions", 3, errors.New("locked"))

	entries := lines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "WARN", entries[1]["level"])
	assert.Equal(t, "locked", entries[1]["error"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "visitor_id", time.Time{}, time.Time{})
		LogRunComplete(nil, 1, 1, 1, 1)
		LogRunError(nil, errors.New("x"), 1, "write")
		LogStageComplete(nil, "write", 1, 1)
		LogSkipped(nil, "decisions", 1, nil)
		LogRetry(nil, "load", 2, nil)
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 2.0)
}
