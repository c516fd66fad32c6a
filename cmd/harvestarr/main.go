// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autovod/harvestarr/internal/browser"
	"github.com/autovod/harvestarr/internal/buildinfo"
	"github.com/autovod/harvestarr/internal/catalog"
	"github.com/autovod/harvestarr/internal/config"
	"github.com/autovod/harvestarr/internal/discovery"
	"github.com/autovod/harvestarr/internal/manifest"
	"github.com/autovod/harvestarr/internal/metrics"
	"github.com/autovod/harvestarr/internal/pipeline"
	"github.com/autovod/harvestarr/internal/playlist"
	"github.com/autovod/harvestarr/internal/resolver"
	"github.com/autovod/harvestarr/internal/retention"
	"github.com/autovod/harvestarr/internal/scheduler"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "harvestarr",
		Short: "Adaptive streaming-manifest harvester",
		Long: `harvestarr - resolves episode player pages into streaming manifests,
rewrites them for local playback and maintains a master playlist.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunHarvestCommand())
	rootCmd.AddCommand(RunDiscoverCommand())
	rootCmd.AddCommand(RunPlaylistCommand())
	rootCmd.AddCommand(RunCleanupCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunHarvestCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "harvest",
		Short: "Resolve the player catalog into manifests",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/harvestarr/ or %APPDATA%\\harvestarr\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for catalogs and manifests (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runHarvest()
	}

	return command
}

func RunDiscoverCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "discover",
		Short: "Scrape the show listings into a player catalog",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configDir, dataDir, logPath, false)
		return app.runDiscover()
	}

	return command
}

func RunPlaylistCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "playlist",
		Short: "Generate the master playlist from harvested manifests",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configDir, dataDir, logPath, false)
		return app.runPlaylist()
	}

	return command
}

func RunCleanupCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete manifests older than the keep window",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configDir, dataDir, logPath, false)
		return app.runCleanup()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of harvestarr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without running a harvest.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/harvestarr/config.toml
- Windows: %APPDATA%\harvestarr\config.toml

You can specify either a directory path or a direct file path:
- Directory: harvestarr generate-config --config-dir /path/to/config/
- File: harvestarr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

// loadConfig initializes configuration and applies CLI flag overrides.
func (app *Application) loadConfig() *config.AppConfig {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if app.dataDir != "" {
		os.Setenv("HARVESTARR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("HARVESTARR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}
	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (app *Application) runHarvest() {
	cfg := app.loadConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting harvestarr")

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("pprof server listening on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	var m *metrics.Metrics
	if cfg.Config.MetricsEnabled {
		m = metrics.New()
		srv := metrics.NewServer(cfg.Config.MetricsHost, cfg.Config.MetricsPort)
		srv.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to stop metrics server")
			}
		}()
	}

	jobs, err := catalog.Load(cfg.GetCatalogPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load player catalog")
	}
	if len(jobs) == 0 {
		log.Warn().Str("path", cfg.GetCatalogPath()).Msg("Player catalog holds no jobs, nothing to do")
		return
	}

	engine := browser.NewEngine(browser.Config{
		UserAgent:      cfg.Config.BrowserUserAgent,
		Locale:         cfg.Config.BrowserLocale,
		ViewportWidth:  cfg.Config.ViewportWidth,
		ViewportHeight: cfg.Config.ViewportHeight,
		NavTimeout:     time.Duration(cfg.Config.NavTimeoutMs) * time.Millisecond,
		SettleDelay:    time.Duration(cfg.Config.SettleDelayMs) * time.Millisecond,
	})
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start browser engine")
	}
	defer engine.Close()

	strategy := resolver.NewStrategy(resolver.Config{
		FastTimeout: time.Duration(cfg.Config.FastTimeoutMs) * time.Millisecond,
		SlowTimeout: time.Duration(cfg.Config.SlowTimeoutMs) * time.Millisecond,
	}, engine, resolver.NewAffinityCache())

	fetcher := manifest.NewFetcher(manifest.FetcherConfig{
		Timeout:   time.Duration(cfg.Config.FetchTimeoutSeconds) * time.Second,
		Retries:   uint(cfg.Config.FetchRetries),
		JitterMin: time.Duration(cfg.Config.JitterMinMs) * time.Millisecond,
		JitterMax: time.Duration(cfg.Config.JitterMaxMs) * time.Millisecond,
		UserAgent: cfg.Config.BrowserUserAgent,
	})
	store := manifest.NewStore(cfg.GetManifestDir())

	harvester := pipeline.NewHarvester(strategy, fetcher, store, m)
	p := pipeline.New(harvester, scheduler.ControllerConfig{
		Min:     cfg.Config.MinConcurrency,
		Initial: cfg.Config.InitialConcurrency,
		Max:     cfg.Config.MaxConcurrency,
		Step:    cfg.Config.ConcurrencyStep,
	}, cfg.Config.MaxPasses, m)

	output := p.Run(ctx, jobs)

	if err := output.Save(cfg.GetResolvedPath()); err != nil {
		log.Fatal().Err(err).Msg("Failed to save resolved catalog")
	}
	log.Info().Str("path", cfg.GetResolvedPath()).Msg("Resolved catalog saved")
}

func (app *Application) runDiscover() error {
	cfg := app.loadConfig()

	if cfg.Config.DiscoverBaseURL == "" {
		return fmt.Errorf("discoverBaseUrl is not configured")
	}
	if len(cfg.Config.Channels) == 0 {
		return fmt.Errorf("no channels configured")
	}

	ctx, cancel := signalContext()
	defer cancel()

	scraper := discovery.New(discovery.Config{
		BaseURL:   cfg.Config.DiscoverBaseURL,
		Channels:  cfg.Config.Channels,
		KeepDays:  cfg.Config.KeepDays,
		UserAgent: cfg.Config.BrowserUserAgent,
	})

	input, err := scraper.Run(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	if err := input.Save(cfg.GetCatalogPath()); err != nil {
		return err
	}
	log.Info().Str("path", cfg.GetCatalogPath()).Msg("Player catalog saved")
	return nil
}

func (app *Application) runPlaylist() error {
	cfg := app.loadConfig()

	if cfg.Config.PlaylistBaseURL == "" {
		return fmt.Errorf("playlistBaseUrl is not configured")
	}

	err := playlist.Write(playlist.Config{
		ManifestDir: cfg.GetManifestDir(),
		BaseURL:     cfg.Config.PlaylistBaseURL,
		DaysLimit:   cfg.Config.KeepDays,
	}, cfg.GetPlaylistPath(), time.Now())
	if err != nil {
		return err
	}
	log.Info().Str("path", cfg.GetPlaylistPath()).Msg("Playlist saved")
	return nil
}

func (app *Application) runCleanup() error {
	cfg := app.loadConfig()

	deleted, err := retention.Clean(cfg.GetManifestDir(), cfg.Config.KeepDays, time.Now())
	if err != nil {
		return err
	}
	log.Info().Int("deleted", deleted).Msg("Cleanup finished")
	return nil
}
