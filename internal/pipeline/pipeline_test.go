// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autovod/harvestarr/internal/catalog"
	"github.com/autovod/harvestarr/internal/manifest"
	"github.com/autovod/harvestarr/internal/resolver"
	"github.com/autovod/harvestarr/internal/scheduler"
)

// scriptedEngine fakes the browsing side: each candidate URL resolves (or
// not) based on how many times it has been probed so far.
type scriptedEngine struct {
	mu     sync.Mutex
	visits map[string]int
	// script returns the manifest URL for the nth probe of a candidate
	// URL, or "" when no manifest request is observed.
	script func(url string, visit int) string
}

func (e *scriptedEngine) NewSurface(_ context.Context) (resolver.Surface, error) {
	return &scriptedSurface{engine: e}, nil
}

type scriptedSurface struct {
	engine *scriptedEngine
}

func (s *scriptedSurface) Probe(_ context.Context, url string, _ time.Duration) (string, error) {
	s.engine.mu.Lock()
	if s.engine.visits == nil {
		s.engine.visits = make(map[string]int)
	}
	s.engine.visits[url]++
	visit := s.engine.visits[url]
	s.engine.mu.Unlock()

	if manifestURL := s.engine.script(url, visit); manifestURL != "" {
		return manifestURL, nil
	}
	return "", resolver.ErrNoManifest
}

func (s *scriptedSurface) Close() error { return nil }

func fastFetcher() manifest.FetcherConfig {
	return manifest.FetcherConfig{
		Timeout:   5 * time.Second,
		Retries:   2,
		JitterMin: time.Millisecond,
		JitterMax: 2 * time.Millisecond,
		UserAgent: "test-agent",
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-VERSION:3\n/seg1.ts\n"))
	}))
	defer srv.Close()
	manifestURL := srv.URL + "/stream/v.m3u8"

	// Job one: first candidate never yields, second yields immediately.
	// Job two: first candidate yields only on its second resolution pass.
	engine := &scriptedEngine{script: func(url string, visit int) string {
		switch url {
		case "https://two.example/embed/1":
			return manifestURL
		case "https://one2.example/embed/2":
			if visit >= 3 { // fast+slow in pass one, fast in pass two
				return manifestURL
			}
		}
		return ""
	}}

	jobs := []catalog.Job{
		{
			Key: catalog.Key{Channel: "c1", Show: "s1", Episode: "e1"},
			Candidates: []catalog.Candidate{
				{Label: "one", URL: "https://one.example/embed/1"},
				{Label: "two", URL: "https://two.example/embed/1"},
			},
		},
		{
			Key: catalog.Key{Channel: "c2", Show: "s2", Episode: "e2"},
			Candidates: []catalog.Candidate{
				{Label: "one", URL: "https://one2.example/embed/2"},
				{Label: "two", URL: "https://two2.example/embed/2"},
			},
		},
	}

	dir := t.TempDir()
	strategy := resolver.NewStrategy(resolver.DefaultConfig(), engine, resolver.NewAffinityCache())
	harvester := NewHarvester(strategy, manifest.NewFetcher(fastFetcher()), manifest.NewStore(dir), nil)
	p := New(harvester, scheduler.DefaultControllerConfig(), 5, nil)

	output := p.Run(context.Background(), jobs)

	// Both jobs end up resolved, job two after a retry pass.
	res1 := output["c1"]["s1"]["e1"]
	require.NotNil(t, res1)
	assert.Equal(t, manifestURL, res1.ManifestURL)
	assert.Equal(t, "two", res1.Player)

	res2 := output["c2"]["s2"]["e2"]
	require.NotNil(t, res2)
	assert.Equal(t, "one", res2.Player)

	// The winning candidate's origin is remembered.
	label, ok := strategy.Cache().Lookup("https://two.example")
	require.True(t, ok)
	assert.Equal(t, "two", label)

	// Manifests are rewritten and persisted.
	data, err := os.ReadFile(catalog.ManifestPath(dir, jobs[0].Key))
	require.NoError(t, err)
	assert.Equal(t,
		"#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-PLAYLIST-TYPE:VOD\n"+srv.URL+"/seg1.ts\n",
		string(data))
}

func TestPipelineUnresolvedJobsReported(t *testing.T) {
	engine := &scriptedEngine{script: func(string, int) string { return "" }}

	jobs := []catalog.Job{{
		Key: catalog.Key{Channel: "c", Show: "s", Episode: "e"},
		Candidates: []catalog.Candidate{
			{Label: "one", URL: "https://one.example/embed"},
		},
	}}

	strategy := resolver.NewStrategy(resolver.DefaultConfig(), engine, resolver.NewAffinityCache())
	harvester := NewHarvester(strategy, manifest.NewFetcher(fastFetcher()), manifest.NewStore(t.TempDir()), nil)
	p := New(harvester, scheduler.DefaultControllerConfig(), 2, nil)

	output := p.Run(context.Background(), jobs)

	shows, ok := output["c"]
	require.True(t, ok)
	res, ok := shows["s"]["e"]
	require.True(t, ok, "unresolved episode must still appear in the output")
	assert.Nil(t, res)
}

func TestHarvesterFetchFailureFailsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	engine := &scriptedEngine{script: func(string, int) string {
		return srv.URL + "/v.m3u8"
	}}

	job := catalog.Job{
		Key: catalog.Key{Channel: "c", Show: "s", Episode: "e"},
		Candidates: []catalog.Candidate{
			{Label: "one", URL: "https://one.example/embed"},
		},
	}

	strategy := resolver.NewStrategy(resolver.DefaultConfig(), engine, resolver.NewAffinityCache())
	h := NewHarvester(strategy, manifest.NewFetcher(fastFetcher()), manifest.NewStore(t.TempDir()), nil)

	res := h.Execute(context.Background(), job)
	assert.False(t, res.Resolved, "a resolved URL with a failed fetch is a failed job")
}
