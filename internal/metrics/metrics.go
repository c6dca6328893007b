/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics provides Prometheus metrics for authtrail.

METRIC CATEGORIES:
==================
- Writes: events stored by type/result, write failures, write latency
- Reads: query latency, malformed records skipped
- Lifecycle: files rotated, compressed, deleted; maintenance failures
- Export: exports by format and outcome
- Forwarding: records published and dropped
- Cache: risk profile and suspicious IP counts

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format.

EXAMPLE METRICS:
================

	authtrail_events_stored_total{event_type="authentication",result="failure"} 12
	authtrail_store_duration_seconds_bucket{le="0.005"} 340
	authtrail_files_compressed_total 7
*/
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"authtrail/internal/config"
	"authtrail/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authtrail"

var (
	// Write metrics

	EventsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_stored_total",
			Help:      "Total number of audit events durably stored",
		},
		[]string{"event_type", "result"},
	)

	StoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of failed store operations",
		},
	)

	StoreDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Duration of store operations in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
	)

	// Read metrics

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	RecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Total number of malformed records skipped while reading",
		},
	)

	// Lifecycle metrics

	FilesRotated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_rotated_total",
			Help:      "Total number of size-based file rotations",
		},
	)

	FilesCompressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_compressed_total",
			Help:      "Total number of event files compressed",
		},
	)

	FilesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_deleted_total",
			Help:      "Total number of event files deleted by retention or duplicate resolution",
		},
	)

	MaintenanceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_errors_total",
			Help:      "Total number of per-file maintenance failures",
		},
	)

	// Export metrics

	Exports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of exports by format and status",
		},
		[]string{"format", "status"},
	)

	// Forwarding metrics

	ForwardPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_published_total",
			Help:      "Total number of events published downstream",
		},
	)

	ForwardDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_dropped_total",
			Help:      "Total number of events dropped by the forwarder",
		},
	)

	// Cache metrics

	RiskProfiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_profiles",
			Help:      "Number of user risk profiles held in memory",
		},
	)

	SuspiciousIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "suspicious_ips",
			Help:      "Number of suspicious source IPs held in memory",
		},
	)
)

// RecordStore records a successful store.
func RecordStore(eventType, result string, d time.Duration) {
	EventsStored.WithLabelValues(eventType, result).Inc()
	StoreDuration.Observe(d.Seconds())
}

// RecordStoreError records a failed store.
func RecordStoreError() {
	StoreErrors.Inc()
}

// RecordQuery records a completed query and the records it skipped.
func RecordQuery(d time.Duration, skipped int) {
	QueryDuration.Observe(d.Seconds())
	if skipped > 0 {
		RecordsSkipped.Add(float64(skipped))
	}
}

// RecordExport records an export outcome.
func RecordExport(format string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	Exports.WithLabelValues(format, status).Inc()
}

// SetCacheSizes publishes risk cache sizes.
func SetCacheSizes(profiles, suspicious int) {
	RiskProfiles.Set(float64(profiles))
	SuspiciousIPs.Set(float64(suspicious))
}

// Server provides an HTTP server for Prometheus metrics.
type Server struct {
	config *config.MetricsConfig
	server *http.Server
	logger *logging.Logger
}

// NewServer creates a new metrics server.
func NewServer(cfg *config.MetricsConfig) *Server {
	return &Server{
		config: cfg,
		logger: logging.NewLogger("metrics"),
	}
}

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Start starts the metrics HTTP server.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("Starting metrics server", "addr", s.config.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
