package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/attribution/pkg/attribution/config"
	"github.com/randalmurphal/attribution/pkg/attribution/store"
)

const defaultDBPath = "attribution.db"

var rootCmd = &cobra.Command{
	Use:   "expattr",
	Short: "Experiment attribution and aggregation",
	Long: `expattr attributes experiment exposures and conversions to variations.

Import decision and conversion events as NDJSON, then compute first exposures,
credit conversions under the Full-Stack or Web policy, and write per-variation
aggregates back to the store.`,
	SilenceUsage: true,
}

// Persistent flags
var (
	dbPath     string
	configPath string
	logLevel   string
	logFormat  string
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite store path (default: store.path from config, else "+defaultDBPath+")")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json (overrides config)")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(subjectsCmd)
	rootCmd.AddCommand(runCmd)
}

// loadSettings reads --config, applying command-line overrides.
func loadSettings() (config.Settings, error) {
	settings := config.Default()
	if configPath != "" {
		var err error
		settings, err = config.Load(configPath)
		if err != nil {
			return config.Settings{}, err
		}
	}
	if dbPath != "" {
		settings.StorePath = dbPath
	}
	if settings.StorePath == "" {
		settings.StorePath = defaultDBPath
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}
	if logFormat != "" {
		settings.LogFormat = logFormat
	}
	return settings, nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(settings config.Settings) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(settings.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", settings.StorePath, err)
	}
	return st, nil
}
