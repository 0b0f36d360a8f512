// Package telemetry exposes the gateway's prometheus metrics. A nil
// *Metrics is a valid no-op receiver so callers never branch on whether
// metrics are enabled.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's instrument set behind a private registry.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal     *prometheus.CounterVec
	queryDuration    prometheus.Histogram
	rejectedWrites   prometheus.Counter
	sessionsInUse    prometheus.GaugeFunc
	sessionsRecycled prometheus.CounterFunc
}

// New creates a Metrics set. inUse and recycled sample pool state on scrape.
func New(inUse func() float64, recycled func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snowmcp",
			Name:      "queries_total",
			Help:      "Statements handled, by tool and outcome.",
		}, []string{"tool", "status"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "snowmcp",
			Name:      "query_duration_seconds",
			Help:      "Wall time of statement execution.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		rejectedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snowmcp",
			Name:      "rejected_writes_total",
			Help:      "Statements rejected by the write-safety classifier.",
		}),
		sessionsInUse: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "snowmcp",
			Name:      "sessions_in_use",
			Help:      "Warehouse sessions currently held by callers.",
		}, inUse),
		sessionsRecycled: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "snowmcp",
			Name:      "sessions_recycled_total",
			Help:      "Broken warehouse sessions replaced by the pool.",
		}, recycled),
	}

	registry.MustRegister(m.queriesTotal, m.queryDuration, m.rejectedWrites,
		m.sessionsInUse, m.sessionsRecycled)
	return m
}

// ObserveQuery records one handled statement.
func (m *Metrics) ObserveQuery(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(tool, status).Inc()
	m.queryDuration.Observe(d.Seconds())
}

// ObserveRejectedWrite records a classifier rejection.
func (m *Metrics) ObserveRejectedWrite() {
	if m == nil {
		return
	}
	m.rejectedWrites.Inc()
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
