package attribution

import (
	"cmp"
	"slices"
)

// Field is a dimension records can be grouped by.
type Field string

const (
	FieldExperimentID Field = "experiment_id"
	FieldVariationID  Field = "variation_id"
	FieldEventName    Field = "event_name"
)

// Metric is a reduction computed per group.
type Metric string

const (
	// MetricCountDistinctSubjects counts distinct subjects in the group.
	MetricCountDistinctSubjects Metric = "count_distinct_subjects"
	// MetricCountRows counts records in the group.
	MetricCountRows Metric = "count_rows"
	// MetricSumRevenue sums revenue, absent revenue counting as zero.
	MetricSumRevenue Metric = "sum_revenue"
)

// metricOrder is the canonical output order of metrics within a group.
var metricOrder = []Metric{MetricCountDistinctSubjects, MetricCountRows, MetricSumRevenue}

// ExposureGroupBy groups subjects by experiment arm.
var ExposureGroupBy = []Field{FieldExperimentID, FieldVariationID}

// ConversionGroupBy groups attributed conversions by experiment arm and event.
var ConversionGroupBy = []Field{FieldExperimentID, FieldVariationID, FieldEventName}

// Fact is a record the aggregation engine can reduce.
// SubjectAssignment and AttributionRecord implement it.
type Fact interface {
	// Dimension returns the record's value for f, or "" when it has none.
	Dimension(f Field) string
	// Subject returns the subject identity.
	Subject() string
	// RevenueAmount returns revenue, zero when absent.
	RevenueAmount() int64
}

// Dimension implements Fact.
func (a SubjectAssignment) Dimension(f Field) string {
	switch f {
	case FieldExperimentID:
		return a.ExperimentID
	case FieldVariationID:
		return a.VariationID
	}
	return ""
}

// Subject implements Fact.
func (a SubjectAssignment) Subject() string { return a.SubjectID }

// RevenueAmount implements Fact. Assignments carry no revenue.
func (a SubjectAssignment) RevenueAmount() int64 { return 0 }

// Dimension implements Fact.
func (r AttributionRecord) Dimension(f Field) string {
	switch f {
	case FieldExperimentID:
		return r.ExperimentID
	case FieldVariationID:
		return r.VariationID
	case FieldEventName:
		return r.EventName
	}
	return ""
}

// Subject implements Fact.
func (r AttributionRecord) Subject() string { return r.SubjectID }

// RevenueAmount implements Fact.
func (r AttributionRecord) RevenueAmount() int64 {
	if r.Revenue == nil {
		return 0
	}
	return *r.Revenue
}

// groupKey holds the grouped dimensions; ungrouped ones stay empty.
type groupKey struct {
	experiment string
	variation  string
	event      string
}

type accumulator struct {
	rows     int64
	revenue  int64
	subjects map[string]struct{}
}

// Aggregate reduces records into one row per (group, metric).
//
// groupBy may be empty, in which case all records form a single group.
// Rows are sorted ascending by the group-by fields in the given order, then
// by metric in canonical order (distinct subjects, rows, revenue).
func Aggregate[R Fact](records []R, groupBy []Field, metrics []Metric) ([]AggregateRow, error) {
	fields, err := validateGroupBy(groupBy)
	if err != nil {
		return nil, err
	}
	ms, err := normalizeMetrics(metrics)
	if err != nil {
		return nil, err
	}
	rows := reduce(records, fields, ms)
	sortRows(rows, fields)
	return rows, nil
}

func reduce[R Fact](records []R, groupBy []Field, metrics []Metric) []AggregateRow {
	needSubjects := slices.Contains(metrics, MetricCountDistinctSubjects)
	groups := make(map[groupKey]*accumulator)
	var order []groupKey

	for _, r := range records {
		k := keyOf(r, groupBy)
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{}
			if needSubjects {
				acc.subjects = make(map[string]struct{})
			}
			groups[k] = acc
			order = append(order, k)
		}
		acc.rows++
		acc.revenue += r.RevenueAmount()
		if needSubjects {
			acc.subjects[r.Subject()] = struct{}{}
		}
	}

	rows := make([]AggregateRow, 0, len(order)*len(metrics))
	for _, k := range order {
		acc := groups[k]
		for _, m := range metrics {
			row := AggregateRow{
				ExperimentID: k.experiment,
				VariationID:  k.variation,
				EventName:    k.event,
				Metric:       m,
			}
			switch m {
			case MetricCountDistinctSubjects:
				row.Value = int64(len(acc.subjects))
			case MetricCountRows:
				row.Value = acc.rows
			case MetricSumRevenue:
				row.Value = acc.revenue
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func keyOf[R Fact](r R, groupBy []Field) groupKey {
	var k groupKey
	for _, f := range groupBy {
		switch f {
		case FieldExperimentID:
			k.experiment = r.Dimension(f)
		case FieldVariationID:
			k.variation = r.Dimension(f)
		case FieldEventName:
			k.event = r.Dimension(f)
		}
	}
	return k
}

func validateGroupBy(groupBy []Field) ([]Field, error) {
	fields := make([]Field, 0, len(groupBy))
	for _, f := range groupBy {
		switch f {
		case FieldExperimentID, FieldVariationID, FieldEventName:
		default:
			return nil, invalid(ErrMissingField, "group_by", string(f))
		}
		if !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// normalizeMetrics validates metrics and returns them deduplicated in canonical order.
func normalizeMetrics(metrics []Metric) ([]Metric, error) {
	for _, m := range metrics {
		if !slices.Contains(metricOrder, m) {
			return nil, invalid(ErrUnknownMetric, "metrics", string(m))
		}
	}
	out := make([]Metric, 0, len(metricOrder))
	for _, m := range metricOrder {
		if slices.Contains(metrics, m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func rowDimension(r AggregateRow, f Field) string {
	switch f {
	case FieldExperimentID:
		return r.ExperimentID
	case FieldVariationID:
		return r.VariationID
	case FieldEventName:
		return r.EventName
	}
	return ""
}

func sortRows(rows []AggregateRow, groupBy []Field) {
	slices.SortStableFunc(rows, func(a, b AggregateRow) int {
		for _, f := range groupBy {
			if c := cmp.Compare(rowDimension(a, f), rowDimension(b, f)); c != 0 {
				return c
			}
		}
		return cmp.Compare(slices.Index(metricOrder, a.Metric), slices.Index(metricOrder, b.Metric))
	})
}
