// Package metrics provides Prometheus metrics for the leaderboard service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the service's metric registry and instruments.
type Manager struct {
	registry *prometheus.Registry

	scoreUpdates      prometheus.Counter
	membersRemoved    prometheus.Counter
	boardsCleared     prometheus.Counter
	leaderboardErrors prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager builds a manager with its own registry, so the default Go
// collectors stay out of the scrape.
func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	auto := promauto.With(registry)

	return &Manager{
		registry: registry,
		scoreUpdates: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "leaderkit",
			Name:      "score_updates_total",
			Help:      "Total score updates applied.",
		}),
		membersRemoved: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "leaderkit",
			Name:      "members_removed_total",
			Help:      "Total members removed from leaderboards.",
		}),
		boardsCleared: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "leaderkit",
			Name:      "boards_cleared_total",
			Help:      "Total leaderboards cleared.",
		}),
		leaderboardErrors: auto.NewCounter(prometheus.CounterOpts{
			Namespace: "leaderkit",
			Name:      "leaderboard_errors_total",
			Help:      "Total leaderboard operations that failed.",
		}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaderkit",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leaderkit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry for custom collectors.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler returns the scrape endpoint handler.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordScoreUpdates counts n applied score updates.
func (m *Manager) RecordScoreUpdates(n int) { m.scoreUpdates.Add(float64(n)) }

// RecordMembersRemoved counts n removed members.
func (m *Manager) RecordMembersRemoved(n int) { m.membersRemoved.Add(float64(n)) }

// RecordBoardCleared counts one cleared board.
func (m *Manager) RecordBoardCleared() { m.boardsCleared.Inc() }

// RecordError counts one failed leaderboard operation.
func (m *Manager) RecordError() { m.leaderboardErrors.Inc() }

// RecordHTTPRequest observes one served request.
func (m *Manager) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
