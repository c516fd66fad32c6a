// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package resolver turns a job's candidate player pages into a manifest URL.
// It owns the visit order (one affinity-promoted candidate, stable
// otherwise) and the fast/slow timeout escalation; the actual navigation and
// request interception is delegated to the browsing engine.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autovod/harvestarr/internal/catalog"
)

// ErrNoManifest is returned by a probe when no matching request was observed
// before the active timeout. It is the recoverable outcome that triggers the
// slow retry tier; any other error is a hard navigation failure and skips
// straight to the next candidate.
var ErrNoManifest = errors.New("no manifest request observed")

// Surface is one isolated browsing surface, exclusively owned by a single
// job for the duration of its resolution.
type Surface interface {
	// Probe navigates to the candidate URL and waits up to timeout for an
	// outbound manifest request. It returns the manifest URL, or
	// ErrNoManifest when the timeout elapsed quietly.
	Probe(ctx context.Context, url string, timeout time.Duration) (string, error)
	Close() error
}

// Engine creates browsing surfaces.
type Engine interface {
	NewSurface(ctx context.Context) (Surface, error)
}

// Config carries the per-candidate timeout tiers.
type Config struct {
	FastTimeout time.Duration
	SlowTimeout time.Duration
}

// DefaultConfig returns the stock fast/slow escalation timeouts.
func DefaultConfig() Config {
	return Config{
		FastTimeout: 2 * time.Second,
		SlowTimeout: 8 * time.Second,
	}
}

// Strategy resolves jobs against a shared affinity cache.
type Strategy struct {
	cfg    Config
	engine Engine
	cache  *AffinityCache
}

// NewStrategy builds a resolution strategy.
func NewStrategy(cfg Config, engine Engine, cache *AffinityCache) *Strategy {
	if cfg.FastTimeout <= 0 {
		cfg.FastTimeout = DefaultConfig().FastTimeout
	}
	if cfg.SlowTimeout <= 0 {
		cfg.SlowTimeout = DefaultConfig().SlowTimeout
	}
	if cache == nil {
		cache = NewAffinityCache()
	}
	return &Strategy{cfg: cfg, engine: engine, cache: cache}
}

// Cache exposes the shared affinity cache.
func (s *Strategy) Cache() *AffinityCache {
	return s.cache
}

// Resolve tries the job's candidates in affinity order until one yields a
// manifest URL. Exhaustion is reported through an unresolved Result, not an
// error: the scheduler treats it as retry input. Exactly one surface is
// acquired for the whole job and released on every exit path.
func (s *Strategy) Resolve(ctx context.Context, job catalog.Job) catalog.Result {
	surface, err := s.engine.NewSurface(ctx)
	if err != nil {
		log.Error().Err(err).Stringer("job", job.Key).Msg("failed to open browsing surface")
		return catalog.Result{}
	}
	defer func() {
		if err := surface.Close(); err != nil {
			log.Debug().Err(err).Stringer("job", job.Key).Msg("failed to close browsing surface")
		}
	}()

	for _, candidate := range s.order(job.Candidates) {
		manifestURL := s.tryCandidate(ctx, surface, job.Key, candidate)
		if manifestURL == "" {
			continue
		}

		s.cache.Store(catalog.Origin(candidate.URL), candidate.Label)
		log.Info().
			Stringer("job", job.Key).
			Str("player", candidate.Label).
			Msg("manifest found")
		return catalog.Result{ManifestURL: manifestURL, Label: candidate.Label, Resolved: true}
	}

	log.Info().Stringer("job", job.Key).Msg("no manifest found")
	return catalog.Result{}
}

// order promotes at most one affinity-matched candidate to the front of the
// list. The rest keeps its original fallback order.
func (s *Strategy) order(candidates []catalog.Candidate) []catalog.Candidate {
	for i, candidate := range candidates {
		label, ok := s.cache.Lookup(catalog.Origin(candidate.URL))
		if !ok || label != candidate.Label {
			continue
		}
		if i == 0 {
			return candidates
		}
		ordered := make([]catalog.Candidate, 0, len(candidates))
		ordered = append(ordered, candidate)
		ordered = append(ordered, candidates[:i]...)
		ordered = append(ordered, candidates[i+1:]...)
		return ordered
	}
	return candidates
}

// tryCandidate probes one candidate with the fast timeout and escalates to
// a single slow retry when nothing was observed. Hard navigation errors do
// not earn the slow tier.
func (s *Strategy) tryCandidate(ctx context.Context, surface Surface, key catalog.Key, candidate catalog.Candidate) string {
	log.Debug().
		Stringer("job", key).
		Str("player", candidate.Label).
		Dur("timeout", s.cfg.FastTimeout).
		Msg("probing candidate")

	manifestURL, err := surface.Probe(ctx, candidate.URL, s.cfg.FastTimeout)
	if err == nil && manifestURL != "" {
		return manifestURL
	}
	if err != nil && !errors.Is(err, ErrNoManifest) {
		log.Debug().Err(err).
			Stringer("job", key).
			Str("player", candidate.Label).
			Msg("candidate navigation failed")
		return ""
	}
	if ctx.Err() != nil {
		return ""
	}

	log.Debug().
		Stringer("job", key).
		Str("player", candidate.Label).
		Dur("timeout", s.cfg.SlowTimeout).
		Msg("retrying candidate with slow timeout")

	manifestURL, err = surface.Probe(ctx, candidate.URL, s.cfg.SlowTimeout)
	if err != nil {
		if !errors.Is(err, ErrNoManifest) {
			log.Debug().Err(err).
				Stringer("job", key).
				Str("player", candidate.Label).
				Msg("candidate navigation failed")
		}
		return ""
	}
	return manifestURL
}
