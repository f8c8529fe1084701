// Package metrics exposes the dispatch core's Prometheus instrumentation.
// Ported from the teacher proxy's internal/metrics, relabeled for the
// file-dispatch domain: request outcomes, cache occupancy, transmit
// latency, and the queue/worker gauges spec.md's concurrency model calls
// out (queue depth, active workers).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the dispatch core reports.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	transmitDuration *prometheus.HistogramVec
	cacheSizeBytes   prometheus.Gauge
	cacheEntries     prometheus.Gauge
	cacheEvictions   prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	activeWorkers    prometheus.Gauge
}

// NewMetrics registers and returns the dispatch core's metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileserver_requests_total",
				Help: "Total dispatched requests by outcome (hit, miss, nocache, uncacheable, malformed, diskerror).",
			},
			[]string{"outcome"},
		),
		transmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fileserver_transmit_duration_seconds",
				Help:    "Time spent resolving and sending a file, by outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		cacheSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fileserver_cache_size_bytes",
			Help: "Current occupied bytes in the content cache.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fileserver_cache_entries",
			Help: "Current number of live entries in the content cache.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fileserver_cache_evictions_total",
			Help: "Total cache entries evicted to make room for an insert.",
		}),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileserver_cache_lookups_total",
				Help: "Total cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fileserver_queue_depth",
			Help: "Current number of connections waiting in the request buffer.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fileserver_active_workers",
			Help: "Current number of worker goroutines actively serving a request.",
		}),
	}

	prometheus.MustRegister(
		m.requestsTotal,
		m.transmitDuration,
		m.cacheSizeBytes,
		m.cacheEntries,
		m.cacheEvictions,
		m.cacheLookups,
		m.queueDepth,
		m.activeWorkers,
	)

	return m
}

// RecordRequest records the outcome and latency of one dispatched request.
func (m *Metrics) RecordRequest(outcome string, durationSeconds float64) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.transmitDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// SetCacheOccupancy reports the cache's current byte and entry counts,
// read under the dispatch core's lock via cache.Table.Stats.
func (m *Metrics) SetCacheOccupancy(sizeBytes, entries int) {
	m.cacheSizeBytes.Set(float64(sizeBytes))
	m.cacheEntries.Set(float64(entries))
}

// AddEvictions increments the eviction counter by the number of entries
// evicted since the previous report.
func (m *Metrics) AddEvictions(n int) {
	if n > 0 {
		m.cacheEvictions.Add(float64(n))
	}
}

// AddCacheLookups increments the hit/miss counters by the number of
// lookups of each result observed since the last report.
func (m *Metrics) AddCacheLookups(hits, misses int64) {
	if hits > 0 {
		m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
	}
}

// SetQueueDepth reports the request buffer's current occupancy.
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// IncrementActiveWorkers and DecrementActiveWorkers bracket a worker's
// time spent serving a request, rather than holding a connection.
func (m *Metrics) IncrementActiveWorkers() {
	m.activeWorkers.Inc()
}

func (m *Metrics) DecrementActiveWorkers() {
	m.activeWorkers.Dec()
}

// Handler returns the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
