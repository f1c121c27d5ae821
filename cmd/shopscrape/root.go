package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/shopscrape/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "shopscrape",
	Short:         "shopscrape extracts product listings from storefront search results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
			cfg.Scraper.Backend = backend
		}
		if sinkKind, _ := cmd.Flags().GetString("sink"); sinkKind != "" {
			cfg.Sink.Kind = sinkKind
		}
		initLogger(cfg.Log)
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().String("backend", "", "acquisition backend: relay or browser (overrides SCRAPER_BACKEND)")
	rootCmd.PersistentFlags().String("sink", "", "result sink: csv, sheets or none (overrides SINK)")
}

func execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
