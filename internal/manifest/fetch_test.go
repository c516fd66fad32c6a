// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastFetcher() FetcherConfig {
	return FetcherConfig{
		Timeout:   5 * time.Second,
		Retries:   3,
		JitterMin: time.Millisecond,
		JitterMax: 2 * time.Millisecond,
		UserAgent: "test-agent",
	}
}

func TestFetchSendsSpoofedHeaders(t *testing.T) {
	var gotUA, gotReferer, gotOrigin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotOrigin = r.Header.Get("Origin")
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	f := NewFetcher(fastFetcher())
	body, err := f.Fetch(context.Background(), srv.URL+"/v.m3u8", "https://player.example/watch/ep1")

	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", string(body))
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "https://player.example/watch/ep1", gotReferer)
	assert.Equal(t, "https://player.example", gotOrigin)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	f := NewFetcher(fastFetcher())
	body, err := f.Fetch(context.Background(), srv.URL+"/v.m3u8", "")

	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchExhaustedRetriesPropagatesStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(fastFetcher())
	_, err := f.Fetch(context.Background(), srv.URL+"/v.m3u8", "")

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchCancelledContextStopsRetrying(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := fastFetcher()
	cfg.Retries = 5
	cfg.JitterMin = 50 * time.Millisecond
	cfg.JitterMax = 60 * time.Millisecond
	f := NewFetcher(cfg)
	_, err := f.Fetch(ctx, srv.URL+"/v.m3u8", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchPacingHonorsCancellation(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(fastFetcher())
	_, err := f.Fetch(ctx, srv.URL+"/v.m3u8", "")

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchPacesBeforeFirstRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	cfg := fastFetcher()
	cfg.JitterMin = 30 * time.Millisecond
	cfg.JitterMax = 40 * time.Millisecond
	f := NewFetcher(cfg)

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL+"/v.m3u8", "")

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestFetchNoRefererSkipsOriginHeader(t *testing.T) {
	var hasReferer, hasOrigin bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasReferer = r.Header["Referer"]
		_, hasOrigin = r.Header["Origin"]
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	f := NewFetcher(fastFetcher())
	_, err := f.Fetch(context.Background(), srv.URL+"/v.m3u8", "")

	require.NoError(t, err)
	assert.False(t, hasReferer)
	assert.False(t, hasOrigin)
}
