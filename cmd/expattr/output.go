package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/randalmurphal/attribution/pkg/attribution"
)

func writeJSONLines[T any](w io.Writer, rows []T) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}

func logSkipped(logger *slog.Logger, report attribution.Report) {
	for _, ds := range []attribution.Dataset{attribution.DatasetDecisions, attribution.DatasetConversions} {
		if n := report.SkippedIn(ds); n > 0 {
			logger.Warn("skipped malformed records", slog.String("dataset", string(ds)), slog.Int("count", n))
		}
	}
}
