package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/attribution/pkg/attribution"
	attrerr "github.com/randalmurphal/attribution/pkg/attribution/errors"
)

// Settings is everything a run reads from a configuration file.
type Settings struct {
	SubjectKey  string
	WindowStart time.Time
	WindowEnd   time.Time
	// Policy is left as written; it is parsed by Engine.
	Policy  string
	Segment string
	Workers int

	StorePath string
	Retry     attrerr.RetryConfig

	LogLevel  string
	LogFormat string
}

// Decode reads Settings from a loaded document:
//
//	subject_key: visitor_id
//	window:
//	  start: 2024-01-01T00:00:00Z
//	  end: 2024-01-31T23:59:59Z
//	attribution_policy: full_stack
//	segment: 'attributes["browser"] == "chrome"'
//	workers: 4
//	store:
//	  path: events.db
//	retry:
//	  max_attempts: 3
//	  initial_backoff: 200ms
//	  max_backoff: 5s
//	  attempt_timeout: 30s
//	log:
//	  level: info
//	  format: text
//
// Missing keys take their defaults. Every present key that cannot be
// converted, or that names an unknown policy or a negative worker count,
// is reported in the returned error.
func Decode(c Config) (Settings, error) {
	var errs []error
	window := get(&errs)(c.Section("window"))
	store := get(&errs)(c.Section("store"))
	retry := get(&errs)(c.Section("retry"))
	log := get(&errs)(c.Section("log"))

	def := attrerr.DefaultRetry
	s := Settings{
		SubjectKey:  get(&errs)(c.String("subject_key", attribution.DefaultSubjectKey)),
		WindowStart: get(&errs)(window.Time("start", time.Time{})),
		WindowEnd:   get(&errs)(window.Time("end", time.Time{})),
		Policy:      get(&errs)(c.String("attribution_policy", "")),
		Segment:     get(&errs)(c.String("segment", "")),
		Workers:     get(&errs)(c.Int("workers", 0)),
		StorePath:   get(&errs)(store.String("path", "")),
		Retry: attrerr.NewRetryConfig(
			attrerr.WithMaxAttempts(get(&errs)(retry.Int("max_attempts", def.MaxAttempts))),
			attrerr.WithInitialBackoff(get(&errs)(retry.Duration("initial_backoff", def.InitialBackoff))),
			attrerr.WithMaxBackoff(get(&errs)(retry.Duration("max_backoff", def.MaxBackoff))),
			attrerr.WithBackoffFactor(get(&errs)(retry.Float("backoff_factor", def.BackoffFactor))),
			attrerr.WithJitter(get(&errs)(retry.Float("jitter", def.Jitter))),
			attrerr.WithAttemptTimeout(get(&errs)(retry.Duration("attempt_timeout", def.AttemptTimeout))),
		),
		LogLevel:  get(&errs)(log.String("level", "info")),
		LogFormat: get(&errs)(log.String("format", "text")),
	}

	if s.Policy != "" {
		if _, err := attribution.ParsePolicy(s.Policy); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Workers < 0 {
		errs = append(errs, &KeyError{Key: "workers", Value: s.Workers, Want: "non-negative integer"})
	}
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, &KeyError{Key: "retry.max_attempts", Value: s.Retry.MaxAttempts, Want: "positive integer"})
	}
	if err := (attribution.Window{Start: s.WindowStart, End: s.WindowEnd}).Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// get returns an accessor's value and records its error in errs.
func get[T any](errs *[]error) func(T, error) T {
	return func(v T, err error) T {
		if err != nil {
			*errs = append(*errs, err)
		}
		return v
	}
}

// Load reads and decodes a configuration file.
func Load(path string) (Settings, error) {
	c, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	s, err := Decode(c)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Default returns the settings of an empty configuration file.
func Default() Settings {
	s, _ := Decode(New(nil))
	return s
}

// Engine converts the settings into an engine config. An empty policy is
// kept empty: subject attribution does not need one, and conversion
// attribution rejects it.
func (s Settings) Engine() (attribution.Config, error) {
	cfg := attribution.Config{
		SubjectKey: s.SubjectKey,
		Window:     attribution.Window{Start: s.WindowStart, End: s.WindowEnd},
		Segment:    s.Segment,
		Workers:    s.Workers,
	}
	if s.Policy != "" {
		p, err := attribution.ParsePolicy(s.Policy)
		if err != nil {
			return attribution.Config{}, err
		}
		cfg.Policy = p
	}
	if err := cfg.Window.Validate(); err != nil {
		return attribution.Config{}, err
	}
	return cfg, nil
}
