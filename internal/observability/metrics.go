// Package observability provides Prometheus metrics for scanner runs.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coinscanner/internal/market"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	StageDuration  *prometheus.HistogramVec
	SnapshotCoins  prometheus.Gauge
	RankedCoins    prometheus.Gauge
	LookupsTotal   *prometheus.CounterVec
	LastSuccessRun prometheus.Gauge
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coinscanner"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by final state",
		}, []string{"state"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of completed pipeline runs",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		SnapshotCoins: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "snapshot_coins",
			Help:      "Number of coins in the latest market snapshot",
		}),
		RankedCoins: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "ranked_coins",
			Help:      "Number of coins in the latest top-gainers list",
		}),
		LookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "lookups_total",
			Help:      "Per-coin enrichment outcomes by stage",
		}, []string{"stage", "outcome"}),
		LastSuccessRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that reached ready",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records the end of a run.
func (m *Metrics) ObserveRun(state string, elapsed time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	if state == "ready" {
		m.LastSuccessRun.Set(float64(at.Unix()))
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveSizes records snapshot and ranked list sizes.
func (m *Metrics) ObserveSizes(snapshot, ranked int) {
	if m == nil {
		return
	}
	m.SnapshotCoins.Set(float64(snapshot))
	m.RankedCoins.Set(float64(ranked))
}

// ObserveTradability counts tradability outcomes.
func (m *Metrics) ObserveTradability(results []market.Tradability) {
	if m == nil {
		return
	}
	for _, r := range results {
		m.LookupsTotal.WithLabelValues("tradability", string(r.Status)).Inc()
	}
}

// ObserveNews counts news outcomes. Nothing is recorded when news is disabled.
func (m *Metrics) ObserveNews(enabled bool, results []market.NewsResult) {
	if m == nil || !enabled {
		return
	}
	for _, r := range results {
		outcome := "found"
		switch {
		case r.Err != nil:
			outcome = "error"
		case len(r.Items) == 0:
			outcome = "empty"
		}
		m.LookupsTotal.WithLabelValues("news", outcome).Inc()
	}
}
