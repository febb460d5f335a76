package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/service"
	"github.com/bitspectre/surveil/internal/service/alerting"
	"github.com/bitspectre/surveil/internal/service/ingest"
	"github.com/bitspectre/surveil/internal/service/metricsengine"
	"github.com/bitspectre/surveil/internal/venue"
	"github.com/bitspectre/surveil/internal/venue/binance"
	"github.com/bitspectre/surveil/internal/venue/okx"
)

const (
	appName = "surveil"
	version = "v1.0.0"
)

func main() {
	var (
		configDir string
		logLevel  string
	)

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time market microstructure surveillance pipeline",
		Version: version,
		Long: `surveil connects to exchange venues, normalizes live order books,
computes liquidity and pricing-integrity metrics, and raises
lifecycle-managed alerts on statistical and structural anomalies.

Each subcommand runs one long-lived service of the pipeline.`,
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "config", "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the venue ingest service",
		Long:  "Connects the configured venues, normalizes order books and tickers, marks data gaps and reports venue health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), configDir, logLevel)
		},
	}

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Run the metrics engine",
		Long:  "Computes spread, depth, imbalance and basis metrics with rolling z-scores for every tracked instrument",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMetrics(cmd.Context(), configDir, logLevel)
		},
	}

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Run the alert service",
		Long:  "Evaluates alert definitions against live metrics and manages the full alert lifecycle through to notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAlerts(cmd.Context(), configDir, logLevel)
		},
	}

	rootCmd.AddCommand(ingestCmd, metricsCmd, alertsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildAdapters(cfg *config.Config) []venue.Adapter {
	instruments := cfg.EnabledInstruments()

	var adapters []venue.Adapter
	for _, name := range cfg.EnabledExchanges() {
		ex, _ := cfg.Exchange(name)
		switch name {
		case "binance":
			adapters = append(adapters, binance.NewAdapter(ex, instruments))
		case "okx":
			adapters = append(adapters, okx.NewAdapter(ex, instruments))
		default:
			log.Warn().Str("venue", name).Msg("no adapter for configured venue")
		}
	}
	return adapters
}

func runIngest(parent context.Context, configDir, logLevel string) error {
	ctx, cancel := service.SignalContext(parent)
	defer cancel()

	rt, err := service.NewRuntime(ctx, "ingest", configDir, logLevel)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := ingest.New(rt.Cfg, rt.KV, rt.TSDB, buildAdapters(rt.Cfg))
	if err != nil {
		return err
	}
	rt.StartOps(svc.Healthy)

	log.Info().Strs("venues", rt.Cfg.EnabledExchanges()).Msg("ingest service starting")
	return svc.Run(ctx)
}

func runMetrics(parent context.Context, configDir, logLevel string) error {
	ctx, cancel := service.SignalContext(parent)
	defer cancel()

	rt, err := service.NewRuntime(ctx, "metrics", configDir, logLevel)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := metricsengine.New(rt.Cfg, rt.KV, rt.TSDB)
	rt.StartOps(svc.Healthy)

	log.Info().Msg("metrics engine starting")
	return svc.Run(ctx)
}

func runAlerts(parent context.Context, configDir, logLevel string) error {
	ctx, cancel := service.SignalContext(parent)
	defer cancel()

	rt, err := service.NewRuntime(ctx, "alerts", configDir, logLevel)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := alerting.New(rt.Cfg, rt.KV, rt.TSDB)
	rt.StartOps(svc.Healthy)

	log.Info().Int("definitions", len(rt.Cfg.Alerts.Definitions)).Msg("alert service starting")
	return svc.Run(ctx)
}
