package attribution

import "context"

// EventSource supplies the two raw datasets. Implementations return records
// in ingestion order; the subject tie-break depends on it. A source may use
// the window to prune reads but is not required to: the engine filters again.
type EventSource interface {
	Decisions(ctx context.Context, window Window) ([]Decision, error)
	Conversions(ctx context.Context, window Window) ([]Conversion, error)
}

// ResultSink receives the output of a successful run. Replace must swap in
// the new output as a whole, never merging it with what was there before.
type ResultSink interface {
	Replace(ctx context.Context, result *Result) error
}
