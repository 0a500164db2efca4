// Package metrics exposes the Prometheus collectors for the oracle
// aggregation service: per-symbol poll latency, per-source fetch failures,
// cache hit rate, and manipulation alerts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every Prometheus collector the service exports, along with
// the prometheus.Registerer they were registered into (its own
// prometheus.NewRegistry() by default, so multiple Registry instances never
// collide on metric names — useful in tests and for per-instance /metrics
// handlers).
type Registry struct {
	Registerer         prometheus.Registerer
	Gatherer           prometheus.Gatherer
	PollDuration       *prometheus.HistogramVec
	FetchFailures      *prometheus.CounterVec
	FetchSuccesses     *prometheus.CounterVec
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheHitRatio      prometheus.Gauge
	AggregationErrors  *prometheus.CounterVec
	ManipulationAlerts *prometheus.CounterVec
	SourceUnhealthy    *prometheus.GaugeVec
	hits, misses       float64
}

// NewRegistry builds every collector and registers them into a fresh
// prometheus.Registry, used as both Registerer and Gatherer.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return newRegistry(reg, reg)
}

// NewRegistryWith builds every collector and registers them into reg. Pass
// prometheus.DefaultRegisterer and prometheus.DefaultGatherer to expose
// collectors on the process-wide /metrics endpoint instead of a dedicated
// per-instance one.
func NewRegistryWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	return newRegistry(reg, gatherer)
}

func newRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Registry {
	r := &Registry{
		Registerer: reg,
		Gatherer:   gatherer,
		PollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oraclefeed_poll_duration_seconds",
				Help:    "Duration of one per-symbol poll tick, from fetch through cache write.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"symbol"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclefeed_fetch_failures_total",
				Help: "Total number of failed source fetches by symbol and source.",
			},
			[]string{"symbol", "source"},
		),
		FetchSuccesses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclefeed_fetch_successes_total",
				Help: "Total number of successful source fetches by symbol and source.",
			},
			[]string{"symbol", "source"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclefeed_cache_hits_total",
				Help: "Total number of cache reads served from cache.",
			},
			[]string{"op"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclefeed_cache_misses_total",
				Help: "Total number of cache reads that missed.",
			},
			[]string{"op"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oraclefeed_cache_hit_ratio",
				Help: "Rolling cache hit ratio (0.0 to 1.0).",
			},
		),
		AggregationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclefeed_aggregation_errors_total",
				Help: "Total number of Combine() failures by symbol and error kind.",
			},
			[]string{"symbol", "kind"},
		),
		ManipulationAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oraclefeed_manipulation_alerts_total",
				Help: "Total number of manipulation alerts raised by symbol and kind.",
			},
			[]string{"symbol", "kind"},
		),
		SourceUnhealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oraclefeed_source_unhealthy",
				Help: "1 if (symbol, source) is currently unhealthy, else 0.",
			},
			[]string{"symbol", "source"},
		),
	}

	collectors := []prometheus.Collector{
		r.PollDuration,
		r.FetchFailures,
		r.FetchSuccesses,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
		r.AggregationErrors,
		r.ManipulationAlerts,
		r.SourceUnhealthy,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("metrics: collector registration failed")
		}
	}

	return r
}

// PollTimer times one poll tick for symbol.
type PollTimer struct {
	registry *Registry
	symbol   string
	start    time.Time
}

func (r *Registry) StartPollTimer(symbol string) *PollTimer {
	return &PollTimer{registry: r, symbol: symbol, start: time.Now()}
}

func (t *PollTimer) Stop() {
	t.registry.PollDuration.WithLabelValues(t.symbol).Observe(time.Since(t.start).Seconds())
}

func (r *Registry) RecordFetch(symbol, source string, err error) {
	if err != nil {
		r.FetchFailures.WithLabelValues(symbol, source).Inc()
		return
	}
	r.FetchSuccesses.WithLabelValues(symbol, source).Inc()
}

func (r *Registry) RecordCacheHit(op string) {
	r.CacheHits.WithLabelValues(op).Inc()
	r.hits++
	r.refreshHitRatio()
}

func (r *Registry) RecordCacheMiss(op string) {
	r.CacheMisses.WithLabelValues(op).Inc()
	r.misses++
	r.refreshHitRatio()
}

func (r *Registry) refreshHitRatio() {
	total := r.hits + r.misses
	if total == 0 {
		return
	}
	r.CacheHitRatio.Set(r.hits / total)
}

func (r *Registry) RecordAggregationError(symbol, kind string) {
	r.AggregationErrors.WithLabelValues(symbol, kind).Inc()
	log.Warn().Str("symbol", symbol).Str("kind", kind).Msg("aggregation error")
}

func (r *Registry) RecordManipulationAlert(symbol, kind string) {
	r.ManipulationAlerts.WithLabelValues(symbol, kind).Inc()
}

// Handler returns the promhttp handler serving this registry's collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{})
}

func (r *Registry) SetSourceUnhealthy(symbol, source string, unhealthy bool) {
	v := 0.0
	if unhealthy {
		v = 1.0
	}
	r.SourceUnhealthy.WithLabelValues(symbol, source).Set(v)
}
