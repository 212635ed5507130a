package attribution_test

import (
	"time"

	"github.com/randalmurphal/attribution/pkg/attribution"
)

// base is the reference instant every test timestamp is offset from.
var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// at returns base plus sec seconds.
func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func decision(visitor, experiment, variation string, sec int) attribution.Decision {
	return attribution.Decision{
		VisitorID:    visitor,
		ExperimentID: experiment,
		VariationID:  variation,
		Timestamp:    at(sec),
	}
}

func holdback(d attribution.Decision) attribution.Decision {
	d.IsHoldback = true
	return d
}

func conversion(visitor, event string, sec int, refs ...attribution.ExperimentRef) attribution.Conversion {
	if refs == nil {
		refs = []attribution.ExperimentRef{}
	}
	return attribution.Conversion{
		VisitorID:             visitor,
		EventName:             event,
		Timestamp:             at(sec),
		AttributedExperiments: refs,
	}
}

func withRevenue(c attribution.Conversion, cents int64) attribution.Conversion {
	c.Revenue = &cents
	return c
}

func ref(experiment, variation string) attribution.ExperimentRef {
	return attribution.ExperimentRef{ExperimentID: experiment, VariationID: variation}
}

func fullStack(startSec, endSec int) attribution.Config {
	return attribution.DefaultConfig().
		WithPolicy(attribution.PolicyFullStack).
		WithWindow(at(startSec), at(endSec))
}

func web(startSec, endSec int) attribution.Config {
	return attribution.DefaultConfig().
		WithPolicy(attribution.PolicyWeb).
		WithWindow(at(startSec), at(endSec))
}

func int64Ptr(v int64) *int64 { return &v }
