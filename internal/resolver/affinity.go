// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import "sync"

// AffinityCache remembers, per source origin, the candidate label that last
// produced a manifest. It is shared by every concurrently resolving job and
// is purely a heuristic: a stale entry only costs one wasted first attempt,
// never a missed job. Updates are single-key overwrites, last write wins.
type AffinityCache struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewAffinityCache returns an empty cache.
func NewAffinityCache() *AffinityCache {
	return &AffinityCache{entries: make(map[string]string)}
}

// Lookup returns the last winning label for an origin.
func (c *AffinityCache) Lookup(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	label, ok := c.entries[origin]
	return label, ok
}

// Store records the winning label for an origin.
func (c *AffinityCache) Store(origin, label string) {
	if origin == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[origin] = label
}

// Len reports the number of cached origins.
func (c *AffinityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
