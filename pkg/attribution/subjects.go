package attribution

import (
	"cmp"
	"slices"
	"time"
)

// exposureKey partitions decisions by experiment and subject.
type exposureKey struct {
	experiment string
	subject    string
}

// AttributeSubjects returns the first exposure of every (experiment, subject)
// pair among the decisions inside cfg.Window.
//
// When several decisions share the earliest timestamp, the one that appears
// first in decisions wins. Results are ordered by first exposure, then
// experiment, then subject. Malformed decisions are skipped and reported.
func AttributeSubjects(decisions []Decision, cfg Config) ([]SubjectAssignment, Report, error) {
	key, seg, err := cfg.validateSubjects()
	if err != nil {
		return nil, Report{}, err
	}
	assignments, report := firstExposures(decisions, cfg.Window, key, seg, false)
	return assignments, report, nil
}

// AttributeSubjectsExcludingHoldback is AttributeSubjects restricted to
// decisions with is_holdback=false. This is the assignment table Full-Stack
// attribution joins conversions against.
func AttributeSubjectsExcludingHoldback(decisions []Decision, cfg Config) ([]SubjectAssignment, Report, error) {
	key, seg, err := cfg.validateSubjects()
	if err != nil {
		return nil, Report{}, err
	}
	assignments, report := firstExposures(decisions, cfg.Window, key, seg, true)
	return assignments, report, nil
}

func firstExposures(
	decisions []Decision,
	window Window,
	key subjectKey,
	seg *segment,
	excludeHoldback bool,
) ([]SubjectAssignment, Report) {
	var report Report
	first := make(map[exposureKey]SubjectAssignment)

	for i := range decisions {
		d := &decisions[i]
		if d.Timestamp.IsZero() {
			report.skip(DatasetDecisions, i, "missing timestamp")
			continue
		}
		if !window.Contains(d.Timestamp) {
			continue
		}
		if excludeHoldback && d.IsHoldback {
			continue
		}
		if d.ExperimentID == "" || d.VariationID == "" {
			report.skip(DatasetDecisions, i, "missing experiment_id or variation_id")
			continue
		}
		subject, ok := key.decision(d)
		if !ok {
			report.skip(DatasetDecisions, i, "missing subject field %s", key.name)
			continue
		}
		match, err := seg.matchDecision(d)
		if err != nil {
			report.skip(DatasetDecisions, i, "segment: %v", err)
			continue
		}
		if !match {
			continue
		}

		k := exposureKey{experiment: d.ExperimentID, subject: subject}
		cur, seen := first[k]
		// Strictly earlier only: ties keep the decision seen first.
		if seen && !d.Timestamp.Before(cur.FirstExposure) {
			continue
		}
		first[k] = SubjectAssignment{
			ExperimentID:  d.ExperimentID,
			SubjectID:     subject,
			VariationID:   d.VariationID,
			FirstExposure: d.Timestamp,
		}
	}

	out := make([]SubjectAssignment, 0, len(first))
	for _, a := range first {
		out = append(out, a)
	}
	sortAssignments(out)
	return out, report
}

// AttributeWebSubjects counts a subject as exposed to a variation when either
// a decision inside the window or the attributed_experiments of a conversion
// inside the window says so. Subjects are distinct per
// (experiment, variation); the earliest timestamp from either source is kept.
func AttributeWebSubjects(decisions []Decision, conversions []Conversion, cfg Config) ([]SubjectAssignment, Report, error) {
	key, seg, err := cfg.validateSubjects()
	if err != nil {
		return nil, Report{}, err
	}

	type webKey struct {
		experiment string
		variation  string
		subject    string
	}
	var report Report
	seen := make(map[webKey]SubjectAssignment)
	observe := func(experiment, variation, subject string, ts time.Time) {
		k := webKey{experiment: experiment, variation: variation, subject: subject}
		if cur, ok := seen[k]; ok && !ts.Before(cur.FirstExposure) {
			return
		}
		seen[k] = SubjectAssignment{
			ExperimentID:  experiment,
			SubjectID:     subject,
			VariationID:   variation,
			FirstExposure: ts,
		}
	}

	for i := range decisions {
		d := &decisions[i]
		if d.Timestamp.IsZero() {
			report.skip(DatasetDecisions, i, "missing timestamp")
			continue
		}
		if !cfg.Window.Contains(d.Timestamp) {
			continue
		}
		if d.ExperimentID == "" || d.VariationID == "" {
			report.skip(DatasetDecisions, i, "missing experiment_id or variation_id")
			continue
		}
		subject, ok := key.decision(d)
		if !ok {
			report.skip(DatasetDecisions, i, "missing subject field %s", key.name)
			continue
		}
		if match, err := seg.matchDecision(d); err != nil {
			report.skip(DatasetDecisions, i, "segment: %v", err)
			continue
		} else if !match {
			continue
		}
		observe(d.ExperimentID, d.VariationID, subject, d.Timestamp)
	}

	for i := range conversions {
		c := &conversions[i]
		refs, subject, ok := webCandidate(c, i, cfg.Window, key, seg, &report)
		if !ok {
			continue
		}
		for _, ref := range refs {
			observe(ref.ExperimentID, ref.VariationID, subject, c.Timestamp)
		}
	}

	out := make([]SubjectAssignment, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	sortAssignments(out)
	return out, report, nil
}

func sortAssignments(out []SubjectAssignment) {
	slices.SortFunc(out, func(a, b SubjectAssignment) int {
		if c := a.FirstExposure.Compare(b.FirstExposure); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ExperimentID, b.ExperimentID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SubjectID, b.SubjectID); c != 0 {
			return c
		}
		return cmp.Compare(a.VariationID, b.VariationID)
	})
}
