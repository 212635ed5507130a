package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/attribution/pkg/attribution"
	"github.com/randalmurphal/attribution/pkg/attribution/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Append NDJSON decision and conversion events to the store",
	Long: `Append newline-delimited JSON events to the store in file order.

Lines that fail to parse are logged and skipped.

Examples:
  expattr import --db events.db --decisions decisions.ndjson
  expattr import --db events.db --decisions d.ndjson --conversions c.ndjson`,
	RunE: runImport,
}

// Flags
var (
	importDecisions   string
	importConversions string
)

func init() {
	importCmd.Flags().StringVar(&importDecisions, "decisions", "", "NDJSON file of decision events")
	importCmd.Flags().StringVar(&importConversions, "conversions", "", "NDJSON file of conversion events")
}

func runImport(cmd *cobra.Command, args []string) error {
	if importDecisions == "" && importConversions == "" {
		return fmt.Errorf("nothing to import: set --decisions and/or --conversions")
	}
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), settings.LogLevel, settings.LogFormat)

	st, err := openStore(settings)
	if err != nil {
		return err
	}
	defer st.Close()

	if importDecisions != "" {
		decisions, err := readFile[attribution.Decision](logger, importDecisions)
		if err != nil {
			return err
		}
		if err := st.AppendDecisions(decisions...); err != nil {
			return fmt.Errorf("append decisions: %w", err)
		}
		logger.Info("imported decisions", slog.String("file", importDecisions), slog.Int("count", len(decisions)))
	}
	if importConversions != "" {
		conversions, err := readFile[attribution.Conversion](logger, importConversions)
		if err != nil {
			return err
		}
		if err := st.AppendConversions(conversions...); err != nil {
			return fmt.Errorf("append conversions: %w", err)
		}
		logger.Info("imported conversions", slog.String("file", importConversions), slog.Int("count", len(conversions)))
	}
	return nil
}

func readFile[T any](logger *slog.Logger, path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, bad, err := store.ReadNDJSON[T](f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for _, lineErr := range bad {
		logger.Warn("skipping malformed line",
			slog.String("file", path),
			slog.Int("line", lineErr.Line),
			slog.String("error", lineErr.Err.Error()),
		)
	}
	return records, nil
}
