// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package manifest

import (
	"strings"

	"github.com/autovod/harvestarr/internal/catalog"
)

const (
	headerTag       = "#EXTM3U"
	versionTag      = "#EXT-X-VERSION"
	playlistTypeTag = "#EXT-X-PLAYLIST-TYPE:VOD"
)

// Rewrite transforms raw manifest bytes for local playback: absolute-path
// URIs are rebased onto the manifest's origin and a VOD playlist-type tag is
// inserted once. This is a one-time transform applied immediately after
// fetch; it is not idempotent and must never run on an already rewritten
// manifest.
func Rewrite(raw []byte, manifestURL string) []byte {
	origin := catalog.Origin(manifestURL)
	lines := splitLines(string(raw))
	out := RewriteLines(lines, origin)
	return []byte(strings.Join(out, "\n") + "\n")
}

// RewriteLines applies the rewrite rules line-by-line in original order:
// the header tag passes through, the first version tag is followed by an
// inserted VOD type tag, absolute paths (a single leading slash, not
// protocol-relative) are prefixed with the origin, everything else passes
// through. If no version tag exists the VOD tag is inserted at index 1.
func RewriteLines(lines []string, origin string) []string {
	out := make([]string, 0, len(lines)+1)
	inserted := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, headerTag):
			out = append(out, line)
		case !inserted && strings.HasPrefix(line, versionTag):
			out = append(out, line, playlistTypeTag)
			inserted = true
		case strings.HasPrefix(line, "/") && !strings.HasPrefix(line, "//"):
			out = append(out, origin+line)
		default:
			out = append(out, line)
		}
	}

	if !inserted {
		if len(out) < 1 {
			return []string{playlistTypeTag}
		}
		out = append(out[:1], append([]string{playlistTypeTag}, out[1:]...)...)
	}
	return out
}

// splitLines normalizes line endings and drops a single trailing empty line
// so the rewrite output carries exactly one trailing newline.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
