// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes harvest run instrumentation over a small
// Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the harvest pipeline collectors.
type Metrics struct {
	ConcurrencyBudget  prometheus.Gauge
	PassesTotal        prometheus.Counter
	AttemptsTotal      prometheus.Counter
	ResolutionsTotal   *prometheus.CounterVec
	FetchesTotal       *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
	AffinityCacheSize  prometheus.Gauge
	ManifestsWritten   prometheus.Counter
}

// New registers the pipeline collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		ConcurrencyBudget: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvestarr_concurrency_budget",
			Help: "Current adaptive concurrency budget",
		}),
		PassesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvestarr_passes_total",
			Help: "Total number of scheduler passes executed",
		}),
		AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvestarr_attempts_total",
			Help: "Total number of job resolution attempts",
		}),
		ResolutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harvestarr_resolutions_total",
			Help: "Total number of job resolutions by outcome",
		}, []string{"outcome"}),
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "harvestarr_manifest_fetches_total",
			Help: "Total number of manifest fetches by outcome",
		}, []string{"outcome"}),
		ResolutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvestarr_resolution_duration_seconds",
			Help:    "Time spent resolving one job",
			Buckets: prometheus.DefBuckets,
		}),
		AffinityCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvestarr_affinity_cache_size",
			Help: "Number of origins with a remembered winning player",
		}),
		ManifestsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvestarr_manifests_written_total",
			Help: "Total number of manifests persisted to disk",
		}),
	}
}

// Server serves /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer builds the metrics HTTP server.
func NewServer(host string, port int) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
