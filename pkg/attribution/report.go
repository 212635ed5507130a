package attribution

import "fmt"

// Dataset names the input a diagnostic refers to.
type Dataset string

const (
	DatasetDecisions   Dataset = "decisions"
	DatasetConversions Dataset = "conversions"
)

// Diagnostic explains why one input record was skipped.
type Diagnostic struct {
	Dataset Dataset `json:"dataset"`
	// Index is the record's position in the input sequence.
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	// Partial is set when only part of the record was dropped and the
	// record itself was still attributed.
	Partial bool `json:"partial,omitempty"`
}

// String renders the diagnostic for logs.
func (d Diagnostic) String() string {
	if d.Partial {
		return fmt.Sprintf("%s[%d] (partial): %s", d.Dataset, d.Index, d.Reason)
	}
	return fmt.Sprintf("%s[%d]: %s", d.Dataset, d.Index, d.Reason)
}

// Report collects the per-record problems of a run.
// Malformed records never abort a run; they are counted here instead.
type Report struct {
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

type recordRef struct {
	dataset Dataset
	index   int
}

// Skipped returns the number of distinct records that were dropped.
// Partial diagnostics do not count.
func (r Report) Skipped() int {
	return r.countSkipped(func(Dataset) bool { return true })
}

// SkippedIn returns the number of distinct records dropped from one dataset.
func (r Report) SkippedIn(ds Dataset) int {
	return r.countSkipped(func(d Dataset) bool { return d == ds })
}

func (r Report) countSkipped(include func(Dataset) bool) int {
	seen := make(map[recordRef]struct{}, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		if d.Partial || !include(d.Dataset) {
			continue
		}
		seen[recordRef{dataset: d.Dataset, index: d.Index}] = struct{}{}
	}
	return len(seen)
}

// Merge returns a report holding the diagnostics of both reports.
func (r Report) Merge(other Report) Report {
	if len(other.Diagnostics) == 0 {
		return r
	}
	merged := make([]Diagnostic, 0, len(r.Diagnostics)+len(other.Diagnostics))
	merged = append(merged, r.Diagnostics...)
	merged = append(merged, other.Diagnostics...)
	return Report{Diagnostics: merged}
}

func (r *Report) skip(ds Dataset, index int, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Dataset: ds,
		Index:   index,
		Reason:  fmt.Sprintf(format, args...),
	})
}

// drop records a problem with part of a record that was otherwise kept.
func (r *Report) drop(ds Dataset, index int, format string, args ...any) {
	r.skip(ds, index, format, args...)
	r.Diagnostics[len(r.Diagnostics)-1].Partial = true
}

// Only returns the diagnostics of a single dataset.
func (r Report) Only(ds Dataset) Report {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Dataset == ds {
			out = append(out, d)
		}
	}
	return Report{Diagnostics: out}
}
