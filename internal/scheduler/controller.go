// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ControllerConfig bounds the concurrency budget.
type ControllerConfig struct {
	Min     int
	Initial int
	Max     int
	Step    int
}

// DefaultControllerConfig returns the tuning the pipeline ships with.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{Min: 1, Initial: 5, Max: 10, Step: 1}
}

func (c ControllerConfig) normalized() ControllerConfig {
	if c.Min < 1 {
		c.Min = 1
	}
	if c.Max < c.Min {
		c.Max = c.Min
	}
	if c.Initial < c.Min {
		c.Initial = c.Min
	}
	if c.Initial > c.Max {
		c.Initial = c.Max
	}
	if c.Step < 1 {
		c.Step = 1
	}
	return c
}

// Controller owns the pass-wide concurrency budget and adjusts it between
// passes with an additive-increase/additive-decrease rule. Failures are
// treated as a proxy for rate limiting upstream, so any failure lowers the
// budget and only a fully clean pass restores it.
type Controller struct {
	mu     sync.Mutex
	cfg    ControllerConfig
	budget int
}

// NewController builds a controller with the budget at the configured
// starting point.
func NewController(cfg ControllerConfig) *Controller {
	cfg = cfg.normalized()
	return &Controller{cfg: cfg, budget: cfg.Initial}
}

// Budget returns the current concurrency budget.
func (c *Controller) Budget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Adjust applies the AIMD rule for one finished pass and returns the new
// budget. An empty pass leaves the budget untouched.
func (c *Controller) Adjust(attempted, succeeded int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if attempted == 0 {
		return c.budget
	}

	before := c.budget
	switch {
	case succeeded == attempted && c.budget < c.cfg.Max:
		c.budget += c.cfg.Step
		if c.budget > c.cfg.Max {
			c.budget = c.cfg.Max
		}
	case succeeded < attempted && c.budget > c.cfg.Min:
		c.budget -= c.cfg.Step
		if c.budget < c.cfg.Min {
			c.budget = c.cfg.Min
		}
	}

	if c.budget != before {
		log.Info().
			Int("attempted", attempted).
			Int("succeeded", succeeded).
			Int("from", before).
			Int("to", c.budget).
			Msg("adjusted concurrency budget")
	}

	return c.budget
}
