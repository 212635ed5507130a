package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/attribution/pkg/attribution"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "Print the first exposure of every subject as JSON lines",
	Long: `Compute the first exposure of every (experiment, subject) pair inside the
configured window and print one JSON object per line.

Examples:
  expattr subjects --db events.db
  expattr subjects --db events.db --config attribution.yaml --exclude-holdback`,
	RunE: runSubjects,
}

var subjectsExcludeHoldback bool

func init() {
	subjectsCmd.Flags().BoolVar(&subjectsExcludeHoldback, "exclude-holdback", false, "Ignore holdback decisions")
}

func runSubjects(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), settings.LogLevel, settings.LogFormat)
	cfg, err := settings.Engine()
	if err != nil {
		return err
	}

	st, err := openStore(settings)
	if err != nil {
		return err
	}
	defer st.Close()

	decisions, err := st.Decisions(ctx, cfg.Window)
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}

	attribute := attribution.AttributeSubjects
	if subjectsExcludeHoldback {
		attribute = attribution.AttributeSubjectsExcludingHoldback
	}
	assignments, report, err := attribute(decisions, cfg)
	if err != nil {
		return err
	}
	logSkipped(logger, report)
	return writeJSONLines(cmd.OutOrStdout(), assignments)
}
