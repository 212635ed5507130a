package attribution

import (
	"context"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// AggregateParallel computes the same rows as Aggregate, sharding the
// reduction across up to workers goroutines.
//
// Records are partitioned by experiment_id, so sharding only happens when
// experiment_id is one of the group-by fields; otherwise a single partition
// is reduced. Each worker owns a disjoint set of experiments and the merged
// rows are sorted exactly as Aggregate sorts them.
//
// If ctx is cancelled before every partition finishes, no rows are returned.
func AggregateParallel[R Fact](ctx context.Context, records []R, groupBy []Field, metrics []Metric, workers int) ([]AggregateRow, error) {
	fields, err := validateGroupBy(groupBy)
	if err != nil {
		return nil, err
	}
	ms, err := normalizeMetrics(metrics)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	partitions := [][]R{records}
	if workers > 1 && slices.Contains(fields, FieldExperimentID) {
		partitions = partitionByExperiment(records, workers)
	}

	results := make([][]AggregateRow, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, part := range partitions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = reduce(part, fields, ms)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A cancel after the last worker started still discards the output.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var total int
	for _, rows := range results {
		total += len(rows)
	}
	merged := make([]AggregateRow, 0, total)
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	sortRows(merged, fields)
	return merged, nil
}

// partitionByExperiment spreads experiments over n partitions. Experiments
// are assigned in sorted order so partitioning is deterministic.
func partitionByExperiment[R Fact](records []R, n int) [][]R {
	byExperiment := make(map[string][]R)
	for _, r := range records {
		id := r.Dimension(FieldExperimentID)
		byExperiment[id] = append(byExperiment[id], r)
	}
	ids := make([]string, 0, len(byExperiment))
	for id := range byExperiment {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	if n > len(ids) {
		n = len(ids)
	}
	if n == 0 {
		return nil
	}
	parts := make([][]R, n)
	for i, id := range ids {
		parts[i%n] = append(parts[i%n], byExperiment[id]...)
	}
	return parts
}
