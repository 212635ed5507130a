package store

import (
	"context"
	"slices"
	"sync"

	"github.com/randalmurphal/attribution/pkg/attribution"
)

// MemoryStore is an in-memory Store. Data is lost when the process exits.
type MemoryStore struct {
	mu          sync.RWMutex
	decisions   []attribution.Decision
	conversions []attribution.Conversion
	latest      *attribution.Result
	replaced    int
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendDecisions implements Store.
func (m *MemoryStore) AppendDecisions(decisions ...attribution.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.decisions = append(m.decisions, decisions...)
	return nil
}

// AppendConversions implements Store.
func (m *MemoryStore) AppendConversions(conversions ...attribution.Conversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.conversions = append(m.conversions, conversions...)
	return nil
}

// Decisions implements attribution.EventSource.
// Records with a zero timestamp are always returned so the engine can report them.
func (m *MemoryStore) Decisions(ctx context.Context, window attribution.Window) ([]attribution.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]attribution.Decision, 0, len(m.decisions))
	for _, d := range m.decisions {
		if d.Timestamp.IsZero() || window.Contains(d.Timestamp) {
			out = append(out, d)
		}
	}
	return out, ctx.Err()
}

// Conversions implements attribution.EventSource.
func (m *MemoryStore) Conversions(ctx context.Context, window attribution.Window) ([]attribution.Conversion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]attribution.Conversion, 0, len(m.conversions))
	for _, c := range m.conversions {
		if c.Timestamp.IsZero() || window.Contains(c.Timestamp) {
			out = append(out, c)
		}
	}
	return out, ctx.Err()
}

// Replace implements attribution.ResultSink. The previous result is dropped.
func (m *MemoryStore) Replace(ctx context.Context, result *attribution.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	stored := *result
	stored.Subjects = slices.Clone(result.Subjects)
	stored.Attributions = slices.Clone(result.Attributions)
	stored.Exposures = slices.Clone(result.Exposures)
	stored.Conversions = slices.Clone(result.Conversions)
	stored.Report.Diagnostics = slices.Clone(result.Report.Diagnostics)
	m.latest = &stored
	m.replaced++
	return nil
}

// Latest returns the most recently written result.
func (m *MemoryStore) Latest() (*attribution.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.latest != nil
}

// Replacements returns how many results have been written.
func (m *MemoryStore) Replacements() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.replaced
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.decisions = nil
	m.conversions = nil
	m.latest = nil
	return nil
}
