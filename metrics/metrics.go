// Package metrics holds the Prometheus collectors for the engine and HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/challenge-engine/challenge"
)

// Metrics implements challenge.Observer and provides HTTP middleware.
type Metrics struct {
	joins             *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	refreshFailures   *prometheus.CounterVec
	baselineFallbacks prometheus.Counter
	refreshDuration   prometheus.Histogram
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "challenge_joins_total",
			Help: "Join attempts by challenge type and outcome",
		}, []string{"type", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "challenge_settlements_total",
			Help: "Challenges settled by type and terminal status",
		}, []string{"type", "status"}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "challenge_refresh_failures_total",
			Help: "Per-challenge refresh failures by type",
		}, []string{"type"}),
		baselineFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "challenge_baseline_fallbacks_total",
			Help: "BudgetCut admissions that used the fallback baseline",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "challenge_refresh_duration_seconds",
			Help:    "Duration of a user's refresh pass",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.joins, m.settlements, m.refreshFailures, m.baselineFallbacks,
			m.refreshDuration, m.httpRequests, m.httpDuration,
		)
	}
	return m
}

// =============================================================================
// ENGINE OBSERVER (challenge.Observer)
// =============================================================================

func (m *Metrics) Joined(t challenge.Type, outcome string) {
	m.joins.WithLabelValues(string(t), outcome).Inc()
}

func (m *Metrics) Settled(t challenge.Type, status challenge.Status) {
	m.settlements.WithLabelValues(string(t), string(status)).Inc()
}

func (m *Metrics) RefreshFailed(t challenge.Type) {
	m.refreshFailures.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) RefreshCompleted(d time.Duration) {
	m.refreshDuration.Observe(d.Seconds())
}

// BaselineFallback counts a BudgetCut seeding that fell back.
// Its signature matches challenge.BudgetCut.OnFallback.
func (m *Metrics) BaselineFallback(string, error) {
	m.baselineFallbacks.Inc()
}

var _ challenge.Observer = (*Metrics)(nil)

// =============================================================================
// HTTP MIDDLEWARE
// =============================================================================

// Middleware records request counts and durations by chi route pattern,
// so IDs in paths don't explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
