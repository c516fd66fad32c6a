// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshaled application configuration.
type Config struct {
	Version string

	LogLevel      string
	LogPath       string
	LogMaxSize    int
	LogMaxBackups int

	DataDir string

	// Adaptive scheduler tuning.
	MaxPasses          int
	MinConcurrency     int
	InitialConcurrency int
	MaxConcurrency     int
	ConcurrencyStep    int

	// Per-candidate probe timeouts in milliseconds.
	FastTimeoutMs    int
	SlowTimeoutMs    int
	NavTimeoutMs     int
	SettleDelayMs    int
	ViewportWidth    int
	ViewportHeight   int
	BrowserUserAgent string
	BrowserLocale    string

	// Manifest acquisition.
	FetchTimeoutSeconds int
	FetchRetries        int
	JitterMinMs         int
	JitterMaxMs         int

	// Catalog and artifact locations, resolved against the data dir when relative.
	CatalogPath  string
	ResolvedPath string
	ManifestDir  string

	// Discovery.
	DiscoverBaseURL string
	Channels        map[string][]string
	KeepDays        int

	// Master playlist generation.
	PlaylistPath    string
	PlaylistBaseURL string

	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	PprofEnabled bool
}
