/*
Package attribution computes experiment attribution and aggregates from
enriched decision and conversion events.

# Overview

Three engines run over plain slices and a Config value:

  - Subject attribution finds the first exposure of each subject to each
    experiment inside a time window.
  - Conversion attribution credits conversions to variations under one of
    two policies, Full-Stack or Web.
  - Aggregation reduces attributed records into per-group metrics.

The engines keep no state between calls. Configuration problems are returned
as errors before any record is scanned; malformed records are skipped and
listed in a Report.

# Subject Attribution

	cfg := attribution.DefaultConfig().WithWindow(start, end)
	assignments, report, err := attribution.AttributeSubjects(decisions, cfg)

Each assignment carries the variation of the earliest decision for its
(experiment, subject) pair. Equal timestamps resolve to the decision that
appears first in the input.

The subject key selects the identity field: visitor_id (default),
session_id, user_ip, or a custom attribute as attributes.<name>.

# Attribution Policies

Full-Stack credits a conversion when the subject's first non-holdback
decision and the conversion both lie inside the window and the conversion
happened at or after that decision:

	cfg = cfg.WithPolicy(attribution.PolicyFullStack)
	records, report, err := attribution.AttributeConversions(conversions, decisions, cfg)

Web trusts the attributed_experiments list each conversion carries and
never looks at decisions:

	cfg = cfg.WithPolicy(attribution.PolicyWeb)
	records, report, err := attribution.AttributeConversions(conversions, nil, cfg)

The two policies can disagree on the same data. A subject exposed before the
window who converts inside it is credited under Web but not under Full-Stack.

# Segments

Config.Segment is an optional boolean expression evaluated against each
record; records for which it is false are excluded:

	cfg.Segment = `attributes["browser"] == "chrome" && event_name != "pageview"`

# Aggregation

	rows, err := attribution.Aggregate(records, attribution.ConversionGroupBy,
	    []attribution.Metric{attribution.MetricCountRows, attribution.MetricSumRevenue})

Each output row holds one metric for one group. Rows are sorted by the
group-by fields, so repeated runs over the same input produce identical
output. AggregateParallel computes the same rows across worker goroutines.

# Pipeline

Pipeline runs the engines end to end over an EventSource and optionally
replaces the output held by a ResultSink:

	p := attribution.NewPipeline(source,
	    attribution.WithLogger(logger),
	    attribution.WithSink(sink),
	)
	result, err := p.Run(ctx, cfg)

A cancelled or failed run returns no result and leaves the sink untouched.
Transient source errors are retried; see the errors subpackage.

# Thread Safety

Engine functions are safe to call concurrently. A Pipeline may run
concurrently as long as its source and sink allow it.
*/
package attribution
