// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/autovod/harvestarr/internal/catalog"
)

// Store persists rewritten manifests under a channel/show/episode directory
// layout with filesystem-safe names.
type Store struct {
	baseDir string
}

// NewStore returns a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Path returns the on-disk location a key's manifest is written to.
func (s *Store) Path(key catalog.Key) string {
	return catalog.ManifestPath(s.baseDir, key)
}

// Write persists the manifest bytes for a key, creating the directory tree
// as needed. It returns the written path.
func (s *Store) Write(key catalog.Key, data []byte) (string, error) {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create manifest dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
