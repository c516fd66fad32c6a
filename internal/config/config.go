// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autovod/harvestarr/internal/domain"
)

var envPrefix = "HARVESTARR__"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	metricsHost := "127.0.0.1"
	if detectContainer() {
		metricsHost = "0.0.0.0"
	}

	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)

	c.viper.SetDefault("maxPasses", 5)
	c.viper.SetDefault("minConcurrency", 1)
	c.viper.SetDefault("initialConcurrency", 5)
	c.viper.SetDefault("maxConcurrency", 10)
	c.viper.SetDefault("concurrencyStep", 1)

	c.viper.SetDefault("fastTimeoutMs", 2000)
	c.viper.SetDefault("slowTimeoutMs", 8000)
	c.viper.SetDefault("navTimeoutMs", 60000)
	c.viper.SetDefault("settleDelayMs", 500)
	c.viper.SetDefault("viewportWidth", 1366)
	c.viper.SetDefault("viewportHeight", 768)
	c.viper.SetDefault("browserUserAgent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	c.viper.SetDefault("browserLocale", "en-US")

	c.viper.SetDefault("fetchTimeoutSeconds", 30)
	c.viper.SetDefault("fetchRetries", 3)
	c.viper.SetDefault("jitterMinMs", 200)
	c.viper.SetDefault("jitterMaxMs", 600)

	c.viper.SetDefault("catalogPath", "player_links.json")
	c.viper.SetDefault("resolvedPath", "show_m3u8_links.json")
	c.viper.SetDefault("manifestDir", "m3u8_files")

	c.viper.SetDefault("discoverBaseUrl", "")
	c.viper.SetDefault("channels", map[string][]string{})
	c.viper.SetDefault("keepDays", 8)

	c.viper.SetDefault("playlistPath", "playlist.m3u")
	c.viper.SetDefault("playlistBaseUrl", "")

	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", metricsHost)
	c.viper.SetDefault("metricsPort", 9713)

	c.viper.SetDefault("pprofEnabled", false)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// If file doesn't exist, create it
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath(GetDefaultConfigDir())

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - it reads ALL env vars and causes conflicts.
	// Explicitly bind only the environment variables we want.
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")

	c.viper.BindEnv("maxPasses", envPrefix+"MAX_PASSES")
	c.viper.BindEnv("minConcurrency", envPrefix+"MIN_CONCURRENCY")
	c.viper.BindEnv("initialConcurrency", envPrefix+"INITIAL_CONCURRENCY")
	c.viper.BindEnv("maxConcurrency", envPrefix+"MAX_CONCURRENCY")
	c.viper.BindEnv("concurrencyStep", envPrefix+"CONCURRENCY_STEP")

	c.viper.BindEnv("fastTimeoutMs", envPrefix+"FAST_TIMEOUT_MS")
	c.viper.BindEnv("slowTimeoutMs", envPrefix+"SLOW_TIMEOUT_MS")
	c.viper.BindEnv("navTimeoutMs", envPrefix+"NAV_TIMEOUT_MS")

	c.viper.BindEnv("fetchTimeoutSeconds", envPrefix+"FETCH_TIMEOUT_SECONDS")
	c.viper.BindEnv("fetchRetries", envPrefix+"FETCH_RETRIES")

	c.viper.BindEnv("catalogPath", envPrefix+"CATALOG_PATH")
	c.viper.BindEnv("resolvedPath", envPrefix+"RESOLVED_PATH")
	c.viper.BindEnv("manifestDir", envPrefix+"MANIFEST_DIR")

	c.viper.BindEnv("discoverBaseUrl", envPrefix+"DISCOVER_BASE_URL")
	c.viper.BindEnv("keepDays", envPrefix+"KEEP_DAYS")

	c.viper.BindEnv("playlistPath", envPrefix+"PLAYLIST_PATH")
	c.viper.BindEnv("playlistBaseUrl", envPrefix+"PLAYLIST_BASE_URL")

	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
	c.viper.BindEnv("pprofEnabled", envPrefix+"PPROF_ENABLED")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.Config.Version = c.version
		c.ApplyLogConfig()
	})
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	configTemplate := `# config.toml - Auto-generated on first run

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/harvestarr.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Catalogs and harvested manifests are created inside this directory
#dataDir = "/var/lib/harvestarr"

# Hard cap on harvest passes over the pending job set
# Default: {{ .maxPasses }}
#maxPasses = {{ .maxPasses }}

# Concurrency budget for a pass. The budget self-tunes between
# minConcurrency and maxConcurrency: a fully clean pass raises it by
# concurrencyStep, any failure lowers it by the same step.
#minConcurrency = {{ .minConcurrency }}
#initialConcurrency = {{ .initialConcurrency }}
#maxConcurrency = {{ .maxConcurrency }}
#concurrencyStep = {{ .concurrencyStep }}

# Per-candidate probe timeouts. Each player page gets a fast attempt
# first and one slow retry before the next candidate is tried.
#fastTimeoutMs = {{ .fastTimeoutMs }}
#slowTimeoutMs = {{ .slowTimeoutMs }}

# Manifest download retry policy
#fetchTimeoutSeconds = {{ .fetchTimeoutSeconds }}
#fetchRetries = {{ .fetchRetries }}
#jitterMinMs = {{ .jitterMinMs }}
#jitterMaxMs = {{ .jitterMaxMs }}

# Catalog and artifact locations, relative paths resolve against dataDir
#catalogPath = "player_links.json"
#resolvedPath = "show_m3u8_links.json"
#manifestDir = "m3u8_files"

# Discovery: listing site base URL and channel -> show slugs to scan
#discoverBaseUrl = "https://listings.example.com"
#[channels]
#channel-one = ["show-slug-a", "show-slug-b"]

# Days of episodes to keep (discovery window, playlist cutoff, cleanup)
#keepDays = {{ .keepDays }}

# Master playlist output and the public base URL its entries point at
#playlistPath = "playlist.m3u"
#playlistBaseUrl = "https://raw.example.com/playlist/main"

# Prometheus Metrics
# Enable Prometheus metrics on a separate port (no authentication)
# Default: false
#metricsEnabled = false

# Metrics server host (bind address for metrics endpoint)
# Default: "{{ .metricsHost }}"
#metricsHost = "{{ .metricsHost }}"

# Metrics server port
# Default: {{ .metricsPort }}
#metricsPort = {{ .metricsPort }}
`

	data := map[string]any{
		"logLevel":            c.viper.GetString("logLevel"),
		"logMaxSize":          c.viper.GetInt("logMaxSize"),
		"logMaxBackups":       c.viper.GetInt("logMaxBackups"),
		"maxPasses":           c.viper.GetInt("maxPasses"),
		"minConcurrency":      c.viper.GetInt("minConcurrency"),
		"initialConcurrency":  c.viper.GetInt("initialConcurrency"),
		"maxConcurrency":      c.viper.GetInt("maxConcurrency"),
		"concurrencyStep":     c.viper.GetInt("concurrencyStep"),
		"fastTimeoutMs":       c.viper.GetInt("fastTimeoutMs"),
		"slowTimeoutMs":       c.viper.GetInt("slowTimeoutMs"),
		"fetchTimeoutSeconds": c.viper.GetInt("fetchTimeoutSeconds"),
		"fetchRetries":        c.viper.GetInt("fetchRetries"),
		"jitterMinMs":         c.viper.GetInt("jitterMinMs"),
		"jitterMaxMs":         c.viper.GetInt("jitterMaxMs"),
		"keepDays":            c.viper.GetInt("keepDays"),
		"metricsHost":         c.viper.GetString("metricsHost"),
		"metricsPort":         c.viper.GetInt("metricsPort"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// Helper functions

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// If XDG_CONFIG_HOME is /config (Docker), use it directly
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "harvestarr")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "harvestarr")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "harvestarr")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "harvestarr")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

// resolvePath resolves a possibly relative artifact path against the data dir.
func (c *AppConfig) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dataDir, p)
}

// GetCatalogPath returns the path of the input player catalog.
func (c *AppConfig) GetCatalogPath() string {
	return c.resolvePath(c.Config.CatalogPath)
}

// GetResolvedPath returns the path of the resolved manifest catalog.
func (c *AppConfig) GetResolvedPath() string {
	return c.resolvePath(c.Config.ResolvedPath)
}

// GetManifestDir returns the directory harvested manifests are written to.
func (c *AppConfig) GetManifestDir() string {
	return c.resolvePath(c.Config.ManifestDir)
}

// GetPlaylistPath returns the master playlist output path.
func (c *AppConfig) GetPlaylistPath() string {
	return c.resolvePath(c.Config.PlaylistPath)
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}
