// Package commands implements the forge CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bundleforge/bundleforge/pkg/bundle"
	"github.com/bundleforge/bundleforge/pkg/config"
	"github.com/bundleforge/bundleforge/pkg/deploy"
	"github.com/bundleforge/bundleforge/pkg/download"
	"github.com/bundleforge/bundleforge/pkg/engine"
	"github.com/bundleforge/bundleforge/pkg/history"
	"github.com/bundleforge/bundleforge/pkg/snapshot"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
	"github.com/bundleforge/bundleforge/pkg/workflow"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "BundleForge - versioned bundle deployment for generative engines",
		Long: `BundleForge provisions a node-graph generative engine from versioned
bundles: an engine commit pin, plugin pins, model file lists, and a workflow
document, captured together so any machine can be brought to the same state.

Bundles live in a directory store; each bundle holds immutable dated versions
plus a movable "current" pointer. Deploy installs a version onto the engine,
snapshot captures a new version from a live installation.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newBundleCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// app holds the wired application components shared by all commands.
type app struct {
	cfg     *config.Settings
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	store   *bundle.Store
	engine  *engine.Manager
	history *history.Store
}

// newApp loads configuration and wires the component graph.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  level,
		Format: cfg.LogFormat,
		Output: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metricsCfg := telemetry.DefaultMetricsConfig()
	metricsCfg.Enabled = cfg.MetricsEnabled
	metricsCfg.ListenAddress = cfg.MetricsListen
	metrics, err := telemetry.NewMetrics(metricsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(log); err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		store:   bundle.NewStore(cfg.BundlesPath, log),
		engine:  engine.NewManager(cfg.EnginePath, cfg.PythonBin, log, metrics),
	}

	if cfg.HistoryDB != "" {
		h, err := history.Open(ctx, cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		a.history = h
	}
	return a, nil
}

func (a *app) close() {
	if a.history != nil {
		_ = a.history.Close()
	}
}

func (a *app) newExecutor() *deploy.Executor {
	downloader := download.NewDownloader(download.Options{
		MaxConcurrent:   a.cfg.MaxConcurrentDownloads,
		Retries:         a.cfg.DownloadRetries,
		SkipExisting:    a.cfg.SkipExisting,
		VerifyChecksums: a.cfg.VerifyChecksums,
		HFToken:         a.cfg.HFToken,
		CivitaiToken:    a.cfg.CivitaiToken,
		Timeout:         a.cfg.DownloadTimeout,
	}, nil, a.log, a.metrics)

	installer := workflow.NewInstaller(a.cfg.EnginePath, a.log)
	prober := engine.NewProber(a.cfg.EnginePath, a.cfg.PythonBin, a.cfg.EnginePort, a.log)

	var recorder deploy.HistoryRecorder
	if a.history != nil {
		recorder = a.history
	}
	return deploy.NewExecutor(a.store, a.engine, downloader, installer, prober, recorder, a.cfg, a.log, a.metrics)
}

func (a *app) newCapturer() *snapshot.Capturer {
	return snapshot.NewCapturer(a.store, a.engine, a.cfg.EnginePath, a.log)
}
