package attribution

import (
	"strings"
	"time"
)

// DefaultSubjectKey identifies subjects by visitor.
const DefaultSubjectKey = "visitor_id"

// attributePrefix selects a custom attribute as the subject key, e.g. "attributes.account_tier".
const attributePrefix = "attributes."

// Window is an inclusive time range. A zero Start or End leaves that side unbounded.
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// AllTime returns a window with no bounds.
func AllTime() Window {
	return Window{}
}

// Contains reports whether t lies inside the window, both ends inclusive.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// Validate rejects windows whose start is after their end.
func (w Window) Validate() error {
	if !w.Start.IsZero() && !w.End.IsZero() && w.Start.After(w.End) {
		return invalid(ErrInvalidWindow, "window",
			w.Start.Format(time.RFC3339Nano)+" > "+w.End.Format(time.RFC3339Nano))
	}
	return nil
}

// Policy selects how conversions are credited to experiments.
type Policy string

const (
	// PolicyFullStack credits a conversion only when the subject's first
	// non-holdback decision and the conversion both fall inside the window,
	// and the conversion happened at or after that decision.
	PolicyFullStack Policy = "full_stack"

	// PolicyWeb credits a conversion to every experiment listed in its
	// attributed_experiments, as resolved by the client at send time.
	PolicyWeb Policy = "web"
)

// ParsePolicy converts a configuration string into a Policy.
// Accepts "full_stack", "full-stack", "fullstack" and "web", case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full_stack", "full-stack", "fullstack":
		return PolicyFullStack, nil
	case "web":
		return PolicyWeb, nil
	}
	return "", invalid(ErrUnknownPolicy, "attribution_policy", s)
}

// Validate rejects policies outside the two supported values.
func (p Policy) Validate() error {
	switch p {
	case PolicyFullStack, PolicyWeb:
		return nil
	}
	return invalid(ErrUnknownPolicy, "attribution_policy", string(p))
}

// Config carries everything an engine call needs. It is passed by value;
// the engine keeps no state between calls.
type Config struct {
	// SubjectKey names the field that identifies a subject.
	// One of visitor_id, session_id, user_ip, or attributes.<name>.
	// Empty means DefaultSubjectKey.
	SubjectKey string

	// Window restricts decisions and conversions by timestamp.
	Window Window

	// Policy selects conversion attribution semantics.
	// Only conversion attribution requires it.
	Policy Policy

	// Segment is an optional boolean expression; records for which it is
	// false are excluded before attribution.
	Segment string

	// Workers bounds the aggregation partitions processed concurrently.
	// Zero uses GOMAXPROCS.
	Workers int
}

// DefaultConfig returns a config covering all time, keyed by visitor, with no policy.
func DefaultConfig() Config {
	return Config{
		SubjectKey: DefaultSubjectKey,
		Window:     AllTime(),
	}
}

// WithPolicy returns a copy of the config using policy p.
func (c Config) WithPolicy(p Policy) Config {
	c.Policy = p
	return c
}

// WithWindow returns a copy of the config restricted to [start, end].
func (c Config) WithWindow(start, end time.Time) Config {
	c.Window = Window{Start: start, End: end}
	return c
}

func (c Config) subjectKey() string {
	if c.SubjectKey == "" {
		return DefaultSubjectKey
	}
	return c.SubjectKey
}

// validateSubjects checks the options used by subject attribution.
func (c Config) validateSubjects() (subjectKey, *segment, error) {
	if err := c.Window.Validate(); err != nil {
		return subjectKey{}, nil, err
	}
	key, err := parseSubjectKey(c.subjectKey())
	if err != nil {
		return subjectKey{}, nil, err
	}
	seg, err := compileSegment(c.Segment)
	if err != nil {
		return subjectKey{}, nil, err
	}
	return key, seg, nil
}

// validateConversions additionally requires a known policy.
func (c Config) validateConversions() (subjectKey, *segment, error) {
	if err := c.Policy.Validate(); err != nil {
		return subjectKey{}, nil, err
	}
	return c.validateSubjects()
}

// Validate checks the whole config, including the policy.
func (c Config) Validate() error {
	_, _, err := c.validateConversions()
	return err
}
