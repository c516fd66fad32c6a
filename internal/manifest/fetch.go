// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package manifest fetches resolved playlist manifests, rewrites them for
// local playback, and persists them into the manifest directory layout.
package manifest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autovod/harvestarr/internal/catalog"
)

// StatusError is returned when the manifest endpoint answered with a
// non-2xx status. It preserves the status code for logging and retry
// decisions.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// FetcherConfig carries the retry and identity knobs for manifest fetches.
type FetcherConfig struct {
	Timeout   time.Duration
	Retries   uint
	JitterMin time.Duration
	JitterMax time.Duration
	UserAgent string
}

// DefaultFetcherConfig returns the stock fetch policy.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:   30 * time.Second,
		Retries:   3,
		JitterMin: 200 * time.Millisecond,
		JitterMax: 600 * time.Millisecond,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Fetcher downloads raw manifest bytes with bounded retries and jitter.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
}

// NewFetcher builds a fetcher with its own HTTP client.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	def := DefaultFetcherConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = def.Retries
	}
	if cfg.JitterMin <= 0 {
		cfg.JitterMin = def.JitterMin
	}
	if cfg.JitterMax <= cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin + def.JitterMax - def.JitterMin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch downloads the manifest at manifestURL. refererURL is the player page
// the manifest was detected on; CDNs commonly reject requests without it.
// Every download waits a random jitter delay before the first request, and
// failed attempts wait the same jittered delay before retrying; the last
// attempt's error is propagated as-is.
func (f *Fetcher) Fetch(ctx context.Context, manifestURL, refererURL string) ([]byte, error) {
	if err := f.pace(ctx); err != nil {
		return nil, err
	}

	var body []byte

	err := retry.Do(
		func() error {
			data, err := f.fetchOnce(ctx, manifestURL, refererURL)
			if err != nil {
				return err
			}
			body = data
			return nil
		},
		retry.Attempts(f.cfg.Retries),
		retry.Delay(f.cfg.JitterMin),
		retry.MaxJitter(f.cfg.JitterMax-f.cfg.JitterMin),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("url", manifestURL).Msg("manifest fetch failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// pace waits a random delay inside the jitter window so concurrent jobs do
// not hit the CDN in lockstep.
func (f *Fetcher) pace(ctx context.Context) error {
	delay := f.cfg.JitterMin + time.Duration(rand.Int63n(int64(f.cfg.JitterMax-f.cfg.JitterMin)))
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, manifestURL, refererURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	if refererURL != "" {
		req.Header.Set("Referer", refererURL)
		if origin := catalog.Origin(refererURL); origin != "" {
			req.Header.Set("Origin", origin)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: manifestURL, StatusCode: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}
