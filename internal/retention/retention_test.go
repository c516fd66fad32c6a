// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir string, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{dir}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n"), 0o644))
	return path
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, time.August, 23, 12, 0, 0, 0, time.UTC)

	old := writeFile(t, dir, "c", "s", "Ep_1st_January_2026.m3u8")
	fresh := writeFile(t, dir, "c", "s", "Ep_22nd_August_2026.m3u8")
	undated := writeFile(t, dir, "c", "s", "Ep_Special.m3u8")
	notManifest := writeFile(t, dir, "c", "s", "notes_1st_January_2026.txt")

	deleted, err := Clean(dir, 8, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, undated)
	assert.FileExists(t, notManifest)
}

func TestCleanMissingDir(t *testing.T) {
	deleted, err := Clean(filepath.Join(t.TempDir(), "missing"), 8, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
