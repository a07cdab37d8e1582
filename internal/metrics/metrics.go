// Package metrics exports Prometheus metrics for search runs, cache
// outcomes and file scans.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/standardbeagle/sift/internal/cache"
	"github.com/standardbeagle/sift/internal/matcher"
	"github.com/standardbeagle/sift/internal/search"
	"github.com/standardbeagle/sift/internal/types"
)

const namespace = "sift"

// Collector records run lifecycle metrics. It implements search.Observer.
type Collector struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	filesScanned *prometheus.CounterVec
	activeRuns   prometheus.Gauge
}

var _ search.Observer = (*Collector)(nil)

// New creates a collector with its own registry, including the Go and
// process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a collector registering into reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Search runs started, by cache origin and search mode",
			},
			[]string{"origin", "mode"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Search runs finished, by terminal state",
			},
			[]string{"state"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Search run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"state"},
		),
		filesScanned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_scanned_total",
				Help:      "Files scanned by search runs",
			},
			[]string{"status"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Search runs that have not reached a terminal state",
			},
		),
	}
}

// RunStarted counts a run by how its cache node was obtained.
func (c *Collector) RunStarted(origin cache.Origin, mode types.SearchMode) {
	c.runsStarted.WithLabelValues(origin.String(), mode.String()).Inc()
	c.activeRuns.Inc()
}

// FileScanned counts one scanned file.
func (c *Collector) FileScanned(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.filesScanned.WithLabelValues(status).Inc()
}

// RunFinished records a run's terminal state and duration.
func (c *Collector) RunFinished(state search.State, elapsed time.Duration) {
	c.activeRuns.Dec()
	c.runsFinished.WithLabelValues(state.String()).Inc()
	c.runDuration.WithLabelValues(state.String()).Observe(elapsed.Seconds())
}

// WatchCache exports the shape of an orchestrator's cache tree as gauges
// read at scrape time.
func (c *Collector) WatchCache(o *search.Orchestrator) {
	factory := promauto.With(c.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "nodes",
		Help:      "Nodes in the search cache tree",
	}, func() float64 { return float64(o.CacheStats().Nodes) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "results",
		Help:      "Per-file results held by the search cache tree",
	}, func() float64 { return float64(o.CacheStats().Results) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "resets_total",
		Help:      "Times the search cache tree was discarded",
	}, func() float64 { return float64(o.CacheStats().Generation) })
}

// WatchRegexCache exports the compiled regex cache counters.
func (c *Collector) WatchRegexCache(stats func() matcher.CacheStats) {
	factory := promauto.With(c.registry)
	counter := func(name, help string, pick func(matcher.CacheStats) int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "regex_cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	counter("hits_total", "Compiled regex cache hits", func(s matcher.CacheStats) int64 { return s.Hits })
	counter("misses_total", "Compiled regex cache misses", func(s matcher.CacheStats) int64 { return s.Misses })
	counter("evictions_total", "Compiled regex cache evictions", func(s matcher.CacheStats) int64 { return s.Evictions })
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
