// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package retention deletes harvested manifests that have aged out of the
// keep window, based on the date embedded in their file names.
package retention

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autovod/harvestarr/internal/pkg/epdate"
)

// Clean removes manifests under dir older than keepDays. Files without a
// parseable filename date are left alone. It returns the number of deleted
// manifests; individual delete failures are logged, not fatal.
func Clean(dir string, keepDays int, now time.Time) (int, error) {
	if keepDays <= 0 {
		keepDays = 8
	}
	cutoff := now.UTC().Add(-time.Duration(keepDays) * 24 * time.Hour)

	deleted := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".m3u8") {
			return nil
		}

		date, ok := epdate.FromFileName(d.Name())
		if !ok || !date.Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to delete expired manifest")
			return nil
		}
		deleted++
		log.Debug().Str("path", path).Msg("expired manifest deleted")
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("walk manifest dir: %w", err)
	}

	log.Info().Int("deleted", deleted).Int("keepDays", keepDays).Msg("retention sweep finished")
	return deleted, nil
}
