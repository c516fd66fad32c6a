// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package playlist builds the master playlist pointing at the harvested
// manifests, served from a public base URL.
package playlist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/autovod/harvestarr/internal/pkg/epdate"
)

// Config drives playlist generation.
type Config struct {
	// ManifestDir is the harvested manifest tree
	// (channel/show/episode.m3u8).
	ManifestDir string
	// BaseURL is the public location the manifest tree is served from;
	// entry URLs are BaseURL plus the manifest's relative path.
	BaseURL string
	// DaysLimit drops entries whose filename date is older than this.
	DaysLimit int
}

type entry struct {
	Group string
	Title string
	URL   string
}

var titleCaser = cases.Title(language.English)

// Generate walks the manifest tree and renders the master playlist.
// Manifests without a parseable filename date or older than the cutoff are
// skipped.
func Generate(cfg Config, now time.Time) (string, error) {
	if cfg.DaysLimit <= 0 {
		cfg.DaysLimit = 8
	}
	cutoff := now.UTC().Add(-time.Duration(cfg.DaysLimit) * 24 * time.Hour)
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")

	var entries []entry
	err := filepath.WalkDir(cfg.ManifestDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == cfg.ManifestDir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".m3u8") {
			return nil
		}

		date, ok := epdate.FromFileName(d.Name())
		if !ok || date.Before(cutoff) {
			return nil
		}

		rel, err := filepath.Rel(cfg.ManifestDir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 3 {
			return nil
		}

		stem := strings.TrimSuffix(d.Name(), ".m3u8")
		entries = append(entries, entry{
			Group: parts[0] + "/" + parts[1],
			Title: titleCaser.String(strings.ReplaceAll(stem, "_", " ")),
			URL:   baseURL + "/" + filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk manifest dir: %w", err)
	}

	// Newest first; episode titles embed their date so reverse
	// lexicographic order within a show tracks recency.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Title > entries[j].Title
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "#EXTINF:-1 group-title=%q,%s\n", e.Group, e.Title)
		b.WriteString(e.URL + "\n\n")
	}

	log.Info().Int("entries", len(entries)).Msg("playlist generated")
	return b.String(), nil
}

// Write renders the playlist and persists it at path.
func Write(cfg Config, path string, now time.Time) error {
	content, err := Generate(cfg, now)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create playlist dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write playlist %s: %w", path, err)
	}
	return nil
}
