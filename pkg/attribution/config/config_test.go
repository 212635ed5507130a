package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/attribution/pkg/attribution"
)

func TestAccessors(t *testing.T) {
	cfg := New(map[string]any{
		"name":      "nightly",
		"workers":   4,
		"workers64": int64(8),
		"ratio":     0.5,
		"whole":     3.0,
		"fraction":  3.5,
		"timeout":   "30s",
		"seconds":   2,
		"nothing":   nil,
		"window":    map[string]any{"start": "2024-01-01"},
	})

	tests := []struct {
		name    string
		get     func() (any, error)
		want    any
		wantErr bool
	}{
		{"string", func() (any, error) { return cfg.String("name", "") }, "nightly", false},
		{"string missing", func() (any, error) { return cfg.String("missing", "default") }, "default", false},
		{"string null", func() (any, error) { return cfg.String("nothing", "default") }, "default", false},
		{"string wrong type", func() (any, error) { return cfg.String("workers", "default") }, "default", true},
		{"int", func() (any, error) { return cfg.Int("workers", 0) }, 4, false},
		{"int64", func() (any, error) { return cfg.Int("workers64", 0) }, 8, false},
		{"whole float", func() (any, error) { return cfg.Int("whole", 0) }, 3, false},
		{"fractional float", func() (any, error) { return cfg.Int("fraction", -1) }, -1, true},
		{"int from string", func() (any, error) { return cfg.Int("name", 0) }, 0, true},
		{"float", func() (any, error) { return cfg.Float("ratio", 0) }, 0.5, false},
		{"float from int", func() (any, error) { return cfg.Float("workers", 0) }, 4.0, false},
		{"float missing", func() (any, error) { return cfg.Float("missing", 1.5) }, 1.5, false},
		{"duration string", func() (any, error) { return cfg.Duration("timeout", 0) }, 30 * time.Second, false},
		{"duration seconds", func() (any, error) { return cfg.Duration("seconds", 0) }, 2 * time.Second, false},
		{"duration invalid", func() (any, error) { return cfg.Duration("name", time.Minute) }, time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.get()
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				var keyErr *KeyError
				assert.ErrorAs(t, err, &keyErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSection(t *testing.T) {
	cfg := New(map[string]any{
		"window": map[string]any{"start": "2024-01-01", "end": "soon"},
		"name":   "nightly",
	})

	window, err := cfg.Section("window")
	require.NoError(t, err)
	_, err = window.Time("end", time.Time{})
	assert.EqualError(t, err, "config window.end: invalid value soon: want timestamp")

	missing, err := cfg.Section("store")
	require.NoError(t, err)
	path, err := missing.String("path", "events.db")
	require.NoError(t, err)
	assert.Equal(t, "events.db", path)

	_, err = cfg.Section("name")
	assert.EqualError(t, err, "config name: invalid value nightly: want object")
}

func TestTime(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value any
	}{
		{"rfc3339", "2024-01-01T00:00:00Z"},
		{"rfc3339 with offset", "2024-01-01T02:00:00+02:00"},
		{"fractional seconds", "2024-01-01T00:00:00.000Z"},
		{"bare date", "2024-01-01"},
		{"time value", want},
		{"unix seconds", want.Unix()},
		{"unix seconds int", int(want.Unix())},
		{"unix seconds float", float64(want.Unix())},
		{"unix millis", float64(want.UnixMilli())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(map[string]any{"at": tt.value}).Time("at", time.Time{})
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}

	fallback := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := New(nil).Time("at", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	for _, bad := range []any{"last tuesday", "2024-13-45", true} {
		got, err := New(map[string]any{"at": bad}).Time("at", fallback)
		var keyErr *KeyError
		require.ErrorAs(t, err, &keyErr, "value %v", bad)
		assert.Equal(t, "at", keyErr.Key)
		assert.Equal(t, fallback, got)
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
subject_key: session_id
window:
  start: 2024-01-01T00:00:00Z
  end: 1706745599
workers: 4
`))
	require.NoError(t, err)

	s, err := Decode(cfg)
	require.NoError(t, err)
	assert.Equal(t, "session_id", s.SubjectKey)
	assert.Equal(t, 4, s.Workers)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(s.WindowStart))
	assert.True(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC).Equal(s.WindowEnd))

	_, err = FromYAML([]byte("workers: [unclosed"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"attribution_policy":"web","workers":2,"window":{"start":"2024-01-01T00:00:00Z"}}`))
	require.NoError(t, err)
	s, err := Decode(cfg)
	require.NoError(t, err)
	assert.Equal(t, "web", s.Policy)
	assert.Equal(t, 2, s.Workers)

	_, err = FromJSON([]byte(`{`))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "attribution.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("attribution_policy: full_stack\n"), 0o600))
	cfg, err := FromFile(yamlPath)
	require.NoError(t, err)
	policy, err := cfg.String("attribution_policy", "")
	require.NoError(t, err)
	assert.Equal(t, "full_stack", policy)

	jsonPath := filepath.Join(dir, "attribution.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"attribution_policy":"web"}`), 0o600))
	cfg, err = FromFile(jsonPath)
	require.NoError(t, err)
	policy, err = cfg.String("attribution_policy", "")
	require.NoError(t, err)
	assert.Equal(t, "web", policy)

	tomlPath := filepath.Join(dir, "attribution.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(""), 0o600))
	_, err = FromFile(tomlPath)
	assert.ErrorContains(t, err, "unsupported")

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	cfg, err := FromYAML([]byte(`
subject_key: attributes.account
window:
  start: 2024-01-01T00:00:00Z
  end: 2024-01-31T23:59:59Z
attribution_policy: Full-Stack
segment: 'attributes["browser"] == "chrome"'
workers: 8
store:
  path: /var/lib/attribution/events.db
retry:
  max_attempts: 5
  initial_backoff: 50ms
  attempt_timeout: 10s
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	s, err := Decode(cfg)
	require.NoError(t, err)
	assert.Equal(t, "attributes.account", s.SubjectKey)
	assert.Equal(t, "Full-Stack", s.Policy)
	assert.Equal(t, 8, s.Workers)
	assert.Equal(t, "/var/lib/attribution/events.db", s.StorePath)
	assert.Equal(t, 5, s.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, s.Retry.InitialBackoff)
	assert.Equal(t, 5*time.Second, s.Retry.MaxBackoff)
	assert.Equal(t, 10*time.Second, s.Retry.AttemptTimeout)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)

	engine, err := s.Engine()
	require.NoError(t, err)
	assert.Equal(t, attribution.PolicyFullStack, engine.Policy)
	assert.Equal(t, `attributes["browser"] == "chrome"`, engine.Segment)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Equal(engine.Window.Start))
	assert.NoError(t, engine.Validate())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contains string
		is       error
	}{
		{"unparseable window end", "window:\n  end: \"2024-13-45\"\n", "window.end", nil},
		{"unparseable window start", "window:\n  start: yesterday\n", "window.start", nil},
		{"window not an object", "window: 2024\n", "config window", nil},
		{"unknown policy", "attribution_policy: last_touch\n", "", attribution.ErrUnknownPolicy},
		{"policy not a string", "attribution_policy: 3\n", "attribution_policy", nil},
		{"fractional workers", "workers: 2.5\n", "workers", nil},
		{"negative workers", "workers: -1\n", "non-negative", nil},
		{"bad backoff", "retry:\n  initial_backoff: soon\n", "retry.initial_backoff", nil},
		{"zero attempts", "retry:\n  max_attempts: 0\n", "retry.max_attempts", nil},
		{"reversed window", "window:\n  start: 2024-02-01T00:00:00Z\n  end: 2024-01-01T00:00:00Z\n", "", attribution.ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromYAML([]byte(tt.yaml))
			require.NoError(t, err)

			_, err = Decode(cfg)
			require.Error(t, err)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	t.Run("every problem is reported", func(t *testing.T) {
		cfg, err := FromYAML([]byte("workers: many\nwindow:\n  end: never\n"))
		require.NoError(t, err)
		_, err = Decode(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workers")
		assert.Contains(t, err.Error(), "window.end")
	})
}

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, attribution.DefaultSubjectKey, s.SubjectKey)
	assert.Empty(t, s.Policy)
	assert.Equal(t, "info", s.LogLevel)

	engine, err := s.Engine()
	require.NoError(t, err)
	assert.Equal(t, attribution.AllTime(), engine.Window)
	assert.Empty(t, engine.Policy)
}

func TestEngineErrors(t *testing.T) {
	s := Default()
	s.Policy = "last_touch"
	_, err := s.Engine()
	assert.ErrorIs(t, err, attribution.ErrUnknownPolicy)

	s = Default()
	s.WindowStart = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.WindowEnd = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = s.Engine()
	assert.ErrorIs(t, err, attribution.ErrInvalidWindow)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attribution.yaml")
	require.NoError(t, os.WriteFile(path, []byte("attribution_policy: web\nworkers: 2\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "web", s.Policy)
	assert.Equal(t, 2, s.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("window:\n  end: \"2024-13-45\"\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "window.end")
}
