package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the prometheus instruments. A nil *Metrics is valid and
// drops every observation, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	clusters    *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	placed      *prometheus.CounterVec
	filled      *prometheus.CounterVec
	expired     *prometheus.CounterVec
	closes      *prometheus.CounterVec
	stopMoves   *prometheus.CounterVec
	feedErrors  prometheus.Counter
	equity      prometheus.Gauge
	breakerOpen prometheus.Gauge
	halted      prometheus.Gauge
}

// NewMetrics builds all instruments on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		clusters: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clusters_fired_total",
			Help: "Cluster signals fired, by side.",
		}, []string{"side"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Direction decisions, by trade mode.",
		}, []string{"mode"}),
		placed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Limit orders placed, by side.",
		}, []string{"side"}),
		filled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_filled_total",
			Help: "Pending orders filled, by side.",
		}, []string{"side"}),
		expired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_expired_total",
			Help: "Pending orders cancelled at TTL, by side.",
		}, []string{"side"}),
		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "positions_closed_total",
			Help: "Position closes, by reason.",
		}, []string{"reason"}),
		stopMoves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stop_moves_total",
			Help: "Stop-loss modifications, by step (breakeven or trail).",
		}, []string{"step"}),
		feedErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_errors_total",
			Help: "Failed event-feed polls.",
		}),
		equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "account_equity",
			Help: "Last observed account equity.",
		}),
		breakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "connectivity_breaker_open",
			Help: "1 while the connectivity circuit breaker is open.",
		}),
		halted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trading_halted",
			Help: "1 while the aggregate daily-loss halt is active.",
		}),
	}
}

// Handler serves the registry in prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ClusterFired(side string) {
	if m != nil {
		m.clusters.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) DecisionMade(mode string) {
	if m != nil {
		m.decisions.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) OrderPlaced(side string) {
	if m != nil {
		m.placed.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) OrderFilled(side string) {
	if m != nil {
		m.filled.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) OrderExpired(side string) {
	if m != nil {
		m.expired.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) PositionClosed(reason string) {
	if m != nil {
		m.closes.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) StopMoved(step string) {
	if m != nil {
		m.stopMoves.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) FeedError() {
	if m != nil {
		m.feedErrors.Inc()
	}
}

func (m *Metrics) SetEquity(v float64) {
	if m != nil {
		m.equity.Set(v)
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m != nil {
		m.breakerOpen.Set(boolGauge(open))
	}
}

func (m *Metrics) SetHalted(halted bool) {
	if m != nil {
		m.halted.Set(boolGauge(halted))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
