package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/attribution/pkg/attribution"
	"github.com/randalmurphal/attribution/pkg/attribution/observability"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run attribution and aggregation, replacing stored aggregates",
	Long: `Attribute subjects and conversions under the configured policy, aggregate
them per variation, and replace the aggregates stored in the database.
Aggregate rows are printed as JSON lines.

Examples:
  expattr run --db events.db --policy full_stack
  expattr run --config attribution.yaml --policy web
  expattr run --config attribution.yaml --otlp-endpoint localhost:4317 --otlp-insecure`,
	RunE: runRun,
}

// Flags
var (
	runPolicy       string
	runWorkers      int
	runOTLPEndpoint string
	runOTLPInsecure bool
)

func init() {
	runCmd.Flags().StringVarP(&runPolicy, "policy", "p", "", "Attribution policy: full_stack or web (overrides config)")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Aggregation workers (overrides config; 0 uses GOMAXPROCS)")
	runCmd.Flags().StringVar(&runOTLPEndpoint, "otlp-endpoint", "", "Export metrics to this OTLP gRPC collector")
	runCmd.Flags().BoolVar(&runOTLPInsecure, "otlp-insecure", false, "Disable TLS for the OTLP collector")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if runPolicy != "" {
		settings.Policy = runPolicy
	}
	if runWorkers > 0 {
		settings.Workers = runWorkers
	}
	logger := newLogger(cmd.ErrOrStderr(), settings.LogLevel, settings.LogFormat)
	cfg, err := settings.Engine()
	if err != nil {
		return err
	}

	opts := []attribution.Option{
		attribution.WithLogger(logger),
		attribution.WithRetry(settings.Retry),
	}
	if runOTLPEndpoint != "" {
		shutdown, err := observability.StartMetricExport(ctx, observability.ExporterConfig{
			Endpoint:    runOTLPEndpoint,
			Insecure:    runOTLPInsecure,
			ServiceName: "expattr",
		})
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("metric export shutdown failed", slog.String("error", err.Error()))
			}
		}()
		opts = append(opts,
			attribution.WithMetrics(observability.NewMetricsRecorder()),
			attribution.WithSpanManager(observability.NewSpanManager()),
		)
	}

	st, err := openStore(settings)
	if err != nil {
		return err
	}
	defer st.Close()
	opts = append(opts, attribution.WithSink(st))

	result, err := attribution.NewPipeline(st, opts...).Run(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := writeJSONLines(out, result.Exposures); err != nil {
		return err
	}
	if err := writeJSONLines(out, result.Conversions); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %d subjects, %d attributed conversions, %d skipped records\n",
		result.RunID, len(result.Subjects), len(result.Attributions), result.Report.Skipped())
	return nil
}
