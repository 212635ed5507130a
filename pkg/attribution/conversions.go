package attribution

import (
	"cmp"
	"slices"
)

// AttributeConversions credits conversions to experiment variations under cfg.Policy.
//
// Full-Stack joins in-window conversions to each subject's first non-holdback
// decision inside the window, keeping only conversions at or after that
// decision. Web fans each in-window conversion out over its own
// attributed_experiments and never consults decisions.
//
// Records are ordered by input conversion, then experiment.
func AttributeConversions(conversions []Conversion, decisions []Decision, cfg Config) ([]AttributionRecord, Report, error) {
	key, seg, err := cfg.validateConversions()
	if err != nil {
		return nil, Report{}, err
	}

	switch cfg.Policy {
	case PolicyFullStack:
		assignments, report := firstExposures(decisions, cfg.Window, key, seg, true)
		records, joinReport := joinFullStack(conversions, assignments, cfg.Window, key, seg)
		return records, report.Merge(joinReport), nil
	default:
		records, report := fanOutWeb(conversions, cfg.Window, key, seg)
		return records, report, nil
	}
}

// AttributeConversionsFromAssignments performs the Full-Stack join against a
// precomputed assignment table, normally the output of
// AttributeSubjectsExcludingHoldback with the same config. cfg.Policy is not
// consulted.
func AttributeConversionsFromAssignments(conversions []Conversion, assignments []SubjectAssignment, cfg Config) ([]AttributionRecord, Report, error) {
	key, seg, err := cfg.validateSubjects()
	if err != nil {
		return nil, Report{}, err
	}
	records, report := joinFullStack(conversions, assignments, cfg.Window, key, seg)
	return records, report, nil
}

func joinFullStack(
	conversions []Conversion,
	assignments []SubjectAssignment,
	window Window,
	key subjectKey,
	seg *segment,
) ([]AttributionRecord, Report) {
	bySubject := make(map[string][]SubjectAssignment)
	for _, a := range assignments {
		if !window.Contains(a.FirstExposure) {
			continue
		}
		bySubject[a.SubjectID] = append(bySubject[a.SubjectID], a)
	}
	for subject := range bySubject {
		slices.SortFunc(bySubject[subject], func(a, b SubjectAssignment) int {
			return cmp.Compare(a.ExperimentID, b.ExperimentID)
		})
	}

	var report Report
	var records []AttributionRecord
	for i := range conversions {
		c := &conversions[i]
		subject, ok := conversionCandidate(c, i, window, key, seg, &report)
		if !ok {
			continue
		}
		for _, a := range bySubject[subject] {
			if c.Timestamp.Before(a.FirstExposure) {
				continue
			}
			records = append(records, AttributionRecord{
				ExperimentID: a.ExperimentID,
				VariationID:  a.VariationID,
				EventName:    c.EventName,
				SubjectID:    subject,
				Revenue:      c.Revenue,
				Timestamp:    c.Timestamp,
			})
		}
	}
	return records, report
}

func fanOutWeb(conversions []Conversion, window Window, key subjectKey, seg *segment) ([]AttributionRecord, Report) {
	var report Report
	var records []AttributionRecord
	for i := range conversions {
		c := &conversions[i]
		refs, subject, ok := webCandidate(c, i, window, key, seg, &report)
		if !ok {
			continue
		}
		for _, ref := range refs {
			records = append(records, AttributionRecord{
				ExperimentID: ref.ExperimentID,
				VariationID:  ref.VariationID,
				EventName:    c.EventName,
				SubjectID:    subject,
				Revenue:      c.Revenue,
				Timestamp:    c.Timestamp,
			})
		}
	}
	return records, report
}

// conversionCandidate applies the checks shared by both policies and returns
// the conversion's subject. Out-of-window and segment-rejected conversions
// are dropped silently; malformed ones are reported.
func conversionCandidate(c *Conversion, i int, window Window, key subjectKey, seg *segment, report *Report) (string, bool) {
	if c.Timestamp.IsZero() {
		report.skip(DatasetConversions, i, "missing timestamp")
		return "", false
	}
	if !window.Contains(c.Timestamp) {
		return "", false
	}
	if c.EventName == "" {
		report.skip(DatasetConversions, i, "missing event_name")
		return "", false
	}
	subject, ok := key.conversion(c)
	if !ok {
		report.skip(DatasetConversions, i, "missing subject field %s", key.name)
		return "", false
	}
	match, err := seg.matchConversion(c)
	if err != nil {
		report.skip(DatasetConversions, i, "segment: %v", err)
		return "", false
	}
	return subject, match
}

// webCandidate returns the experiments a conversion is credited to under the
// Web policy, one variation per experiment, in listed order.
func webCandidate(c *Conversion, i int, window Window, key subjectKey, seg *segment, report *Report) ([]ExperimentRef, string, bool) {
	subject, ok := conversionCandidate(c, i, window, key, seg, report)
	if !ok {
		return nil, "", false
	}
	if c.AttributedExperiments == nil {
		report.skip(DatasetConversions, i, "missing attributed_experiments")
		return nil, "", false
	}

	refs := make([]ExperimentRef, 0, len(c.AttributedExperiments))
	seen := make(map[string]struct{}, len(c.AttributedExperiments))
	for j, ref := range c.AttributedExperiments {
		if ref.ExperimentID == "" || ref.VariationID == "" {
			report.drop(DatasetConversions, i, "attributed_experiments[%d]: missing experiment_id or variation_id", j)
			continue
		}
		if _, dup := seen[ref.ExperimentID]; dup {
			continue
		}
		seen[ref.ExperimentID] = struct{}{}
		refs = append(refs, ref)
	}
	if len(refs) == 0 && len(c.AttributedExperiments) > 0 {
		report.skip(DatasetConversions, i, "no valid attributed_experiments")
		return nil, "", false
	}
	return refs, subject, true
}
