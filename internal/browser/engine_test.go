// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsManifestRequest(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"plain_manifest", "https://cdn.example.com/stream/v.m3u8", true},
		{"uppercase_extension", "https://cdn.example.com/stream/V.M3U8", true},
		{"query_string_ignored", "https://cdn.example.com/v.m3u8?token=abc", true},
		{"extension_in_query_only", "https://cdn.example.com/player?src=v.m3u8", false},
		{"segment_request", "https://cdn.example.com/seg1.ts", false},
		{"page_request", "https://player.example/watch/ep1", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isManifestRequest(tt.url))
		})
	}
}

func TestNewEngineAppliesDefaults(t *testing.T) {
	e := NewEngine(Config{})

	assert.Equal(t, 1366, e.cfg.ViewportWidth)
	assert.Equal(t, 768, e.cfg.ViewportHeight)
	assert.Equal(t, 60*time.Second, e.cfg.NavTimeout)
	assert.NotEmpty(t, e.cfg.UserAgent)
}
