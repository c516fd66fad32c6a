// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline wires resolution, manifest acquisition, and persistence
// into the executor the pass scheduler drives.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autovod/harvestarr/internal/catalog"
	"github.com/autovod/harvestarr/internal/manifest"
	"github.com/autovod/harvestarr/internal/metrics"
	"github.com/autovod/harvestarr/internal/resolver"
	"github.com/autovod/harvestarr/internal/scheduler"
)

// Harvester executes one job end to end: resolve a manifest URL, fetch the
// manifest, rewrite it, persist it. A job only counts as succeeded when the
// rewritten manifest is on disk; any step failing marks the job failed for
// this pass so the scheduler retries it.
type Harvester struct {
	strategy *resolver.Strategy
	fetcher  *manifest.Fetcher
	store    *manifest.Store
	metrics  *metrics.Metrics
}

// NewHarvester builds the per-job executor. metrics may be nil.
func NewHarvester(strategy *resolver.Strategy, fetcher *manifest.Fetcher, store *manifest.Store, m *metrics.Metrics) *Harvester {
	return &Harvester{strategy: strategy, fetcher: fetcher, store: store, metrics: m}
}

// Execute implements scheduler.Executor.
func (h *Harvester) Execute(ctx context.Context, job catalog.Job) catalog.Result {
	start := time.Now()
	res := h.strategy.Resolve(ctx, job)

	if h.metrics != nil {
		h.metrics.AttemptsTotal.Inc()
		h.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
		h.metrics.AffinityCacheSize.Set(float64(h.strategy.Cache().Len()))
		if res.Resolved {
			h.metrics.ResolutionsTotal.WithLabelValues("resolved").Inc()
		} else {
			h.metrics.ResolutionsTotal.WithLabelValues("unresolved").Inc()
		}
	}
	if !res.Resolved {
		return res
	}

	raw, err := h.fetcher.Fetch(ctx, res.ManifestURL, refererFor(job, res.Label))
	if err != nil {
		log.Warn().Err(err).Stringer("job", job.Key).Msg("manifest fetch failed")
		if h.metrics != nil {
			h.metrics.FetchesTotal.WithLabelValues("error").Inc()
		}
		return catalog.Result{}
	}
	if h.metrics != nil {
		h.metrics.FetchesTotal.WithLabelValues("ok").Inc()
	}

	path, err := h.store.Write(job.Key, manifest.Rewrite(raw, res.ManifestURL))
	if err != nil {
		log.Error().Err(err).Stringer("job", job.Key).Msg("failed to persist manifest")
		return catalog.Result{}
	}
	if h.metrics != nil {
		h.metrics.ManifestsWritten.Inc()
	}

	log.Info().Stringer("job", job.Key).Str("path", path).Msg("manifest persisted")
	return res
}

// refererFor returns the winning candidate's page URL, used as the Referer
// for the manifest fetch.
func refererFor(job catalog.Job, label string) string {
	for _, c := range job.Candidates {
		if c.Label == label {
			return c.URL
		}
	}
	return ""
}

// Pipeline runs a whole harvest: all jobs through the adaptive pass
// scheduler, results folded into an output catalog.
type Pipeline struct {
	harvester  *Harvester
	controller scheduler.ControllerConfig
	maxPasses  int
	metrics    *metrics.Metrics
}

// New builds a pipeline. metrics may be nil.
func New(harvester *Harvester, controller scheduler.ControllerConfig, maxPasses int, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		harvester:  harvester,
		controller: controller,
		maxPasses:  maxPasses,
		metrics:    m,
	}
}

// Run resolves the whole job set and returns the output catalog. The run is
// best effort: individual job failures are recorded as unresolved entries,
// never propagated as errors.
func (p *Pipeline) Run(ctx context.Context, jobs []catalog.Job) catalog.Output {
	runID := uuid.New().String()
	logger := log.With().Str("run", runID).Logger()
	logger.Info().Int("jobs", len(jobs)).Int("maxPasses", p.maxPasses).Msg("harvest run starting")

	ctrl := scheduler.NewController(p.controller)
	sched := scheduler.New(ctrl, p.harvester, p.maxPasses)
	sched.SetPassObserver(func(pass, attempted, succeeded, budget int) {
		if p.metrics != nil {
			p.metrics.PassesTotal.Inc()
			p.metrics.ConcurrencyBudget.Set(float64(budget))
		}
	})

	results := sched.Run(ctx, jobs)

	output := catalog.Output{}
	resolved := 0
	for key, res := range results {
		output.Set(key, res)
		if res.Resolved {
			resolved++
		}
	}

	logger.Info().
		Int("resolved", resolved).
		Int("unresolved", len(results)-resolved).
		Msg("harvest run finished")
	return output
}
