package benchmarks

import (
	"fmt"
	"time"

	"github.com/randalmurphal/attribution/pkg/attribution"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// generateDecisions builds n decisions spread over subjects and experiments.
// Every tenth decision is a holdback.
func generateDecisions(n, subjects, experiments int) []attribution.Decision {
	out := make([]attribution.Decision, n)
	for i := range out {
		out[i] = attribution.Decision{
			VisitorID:    fmt.Sprintf("visitor-%d", i%subjects),
			ExperimentID: fmt.Sprintf("exp-%d", i%experiments),
			VariationID:  fmt.Sprintf("v%d", (i/experiments)%2),
			Timestamp:    epoch.Add(time.Duration(i) * time.Second),
			IsHoldback:   i%10 == 0,
			Attributes:   []attribution.Attribute{{Name: "browser", Value: []string{"chrome", "firefox", "safari"}[i%3]}},
		}
	}
	return out
}

// generateConversions builds n conversions, each attributed to two experiments.
func generateConversions(n, subjects, experiments int) []attribution.Conversion {
	out := make([]attribution.Conversion, n)
	for i := range out {
		revenue := int64(i % 5000)
		out[i] = attribution.Conversion{
			VisitorID: fmt.Sprintf("visitor-%d", i%subjects),
			EventName: []string{"purchase", "signup", "add_to_cart"}[i%3],
			Timestamp: epoch.Add(time.Duration(n+i) * time.Second),
			Revenue:   &revenue,
			AttributedExperiments: []attribution.ExperimentRef{
				{ExperimentID: fmt.Sprintf("exp-%d", i%experiments), VariationID: "v0"},
				{ExperimentID: fmt.Sprintf("exp-%d", (i+1)%experiments), VariationID: "v1"},
			},
		}
	}
	return out
}

func benchConfig(policy attribution.Policy) attribution.Config {
	return attribution.DefaultConfig().WithPolicy(policy)
}
