// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the pending job set in adaptive passes: every pass
// executes all still-pending jobs concurrently under the controller's
// budget, failures carry over to the next pass, and the budget self-tunes
// from the pass outcome.
package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/autovod/harvestarr/internal/catalog"
)

// Executor resolves a single job. Implementations report failure through
// the Result, not an error: an unresolved job is retry input, not a fault.
type Executor interface {
	Execute(ctx context.Context, job catalog.Job) catalog.Result
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job catalog.Job) catalog.Result

func (f ExecutorFunc) Execute(ctx context.Context, job catalog.Job) catalog.Result {
	return f(ctx, job)
}

// Scheduler drives jobs through up to MaxPasses passes.
type Scheduler struct {
	controller *Controller
	executor   Executor
	maxPasses  int

	// observer, when set, receives per-pass counts. Used for metrics.
	observer PassObserver
}

// PassObserver is notified after every pass with the pass outcome and the
// budget that the next pass will run at.
type PassObserver func(pass, attempted, succeeded, budget int)

// New builds a scheduler. maxPasses below 1 is clamped to 1 so the job set
// is always attempted at least once.
func New(controller *Controller, executor Executor, maxPasses int) *Scheduler {
	if maxPasses < 1 {
		maxPasses = 1
	}
	return &Scheduler{
		controller: controller,
		executor:   executor,
		maxPasses:  maxPasses,
	}
}

// SetPassObserver registers the per-pass callback. Must be called before Run.
func (s *Scheduler) SetPassObserver(fn PassObserver) {
	s.observer = fn
}

// Run executes the job set and returns the accumulated results. Jobs that
// remain unresolved when the pass cap is exhausted are present in the map
// with an unresolved Result; that is a terminal, reportable outcome rather
// than an error. Every job is attempted at most maxPasses times and never
// concurrently with itself.
func (s *Scheduler) Run(ctx context.Context, jobs []catalog.Job) map[catalog.Key]catalog.Result {
	results := make(map[catalog.Key]catalog.Result, len(jobs))
	for _, job := range jobs {
		results[job.Key] = catalog.Result{}
	}

	pending := jobs
	for pass := 1; pass <= s.maxPasses && len(pending) > 0; pass++ {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int("pass", pass).Msg("run cancelled")
			break
		}

		budget := s.controller.Budget()
		log.Info().
			Int("pass", pass).
			Int("pending", len(pending)).
			Int("concurrency", budget).
			Msg("starting pass")

		passResults := s.runPass(ctx, pending, budget)

		// pending is reassigned to the failure subset, never mutated in
		// place, so a pass always iterates a stable snapshot.
		var failed []catalog.Job
		succeeded := 0
		for _, job := range pending {
			res := passResults[job.Key]
			if res.Resolved {
				succeeded++
				results[job.Key] = res
				continue
			}
			failed = append(failed, job)
		}

		attempted := len(pending)
		newBudget := s.controller.Adjust(attempted, succeeded)

		log.Info().
			Int("pass", pass).
			Int("attempted", attempted).
			Int("succeeded", succeeded).
			Int("failed", len(failed)).
			Int("nextConcurrency", newBudget).
			Msg("pass finished")

		if s.observer != nil {
			s.observer(pass, attempted, succeeded, newBudget)
		}

		pending = failed
	}

	if len(pending) > 0 {
		log.Warn().Int("unresolved", len(pending)).Int("maxPasses", s.maxPasses).Msg("jobs left unresolved after final pass")
	}

	return results
}

func (s *Scheduler) runPass(ctx context.Context, pending []catalog.Job, budget int) map[catalog.Key]catalog.Result {
	if budget < 1 {
		budget = 1
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[catalog.Key]catalog.Result, len(pending))
	)

	sem := semaphore.NewWeighted(int64(budget))
	for _, job := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a slot; remaining jobs stay
			// unresolved for this pass.
			break
		}

		wg.Add(1)
		go func(job catalog.Job) {
			defer wg.Done()
			defer sem.Release(1)

			res := s.executor.Execute(ctx, job)

			mu.Lock()
			results[job.Key] = res
			mu.Unlock()
		}(job)
	}

	wg.Wait()
	return results
}
