// Package prommetrics exports knnlib operations and cache state as
// Prometheus metrics.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/knnlib"
)

const namespace = "knnlib"

// Collector implements knnlib.MetricsCollector.
type Collector struct {
	opLatency *prometheus.HistogramVec
	ops       *prometheus.CounterVec
	vectors   prometheus.Counter
	evictions *prometheus.CounterVec
}

var _ knnlib.MetricsCollector = (*Collector)(nil)

// New creates the collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of build, load and query operations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
		}, []string{"op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Build, load and query operations by outcome",
		}, []string{"op", "status"}),
		vectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_vectors_total",
			Help:      "Vectors added by successful builds",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache evictions by reason",
		}, []string{"reason"}),
	}
	for _, col := range []prometheus.Collector{c.opLatency, c.ops, c.vectors, c.evictions} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	s := statusOf(err)
	c.opLatency.WithLabelValues(op, s).Observe(d.Seconds())
	c.ops.WithLabelValues(op, s).Inc()
}

func (c *Collector) RecordBuild(count int, d time.Duration, err error) {
	c.observe("build", d, err)
	if err == nil {
		c.vectors.Add(float64(count))
	}
}

func (c *Collector) RecordLoad(d time.Duration, err error) { c.observe("load", d, err) }

func (c *Collector) RecordQuery(_ int, d time.Duration, err error) { c.observe("query", d, err) }

func (c *Collector) RecordEviction(reason string) {
	c.evictions.WithLabelValues(reason).Inc()
}

// CacheCollector reports a cache's Stats on every scrape.
type CacheCollector struct {
	cache *knnlib.Cache

	hits, misses, loads, loadErrors, evictions *prometheus.Desc
	memory, entries, capacityReached           *prometheus.Desc
}

// NewCacheCollector creates a collector for cache. Register it with a
// prometheus.Registerer.
func NewCacheCollector(cache *knnlib.Cache) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &CacheCollector{
		cache:           cache,
		hits:            desc("hits_total", "Cache lookups served from memory"),
		misses:          desc("misses_total", "Cache lookups that required a load"),
		loads:           desc("loads_total", "Successful index loads"),
		loadErrors:      desc("load_errors_total", "Failed index loads"),
		evictions:       desc("evictions_total", "Indexes dropped from the cache"),
		memory:          desc("memory_kb", "Memory held by cached indexes in KB"),
		entries:         desc("entries", "Indexes in the cache"),
		capacityReached: desc("capacity_reached", "1 when the cache is at its capacity limit"),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.hits, c.misses, c.loads, c.loadErrors, c.evictions, c.memory, c.entries, c.capacityReached} {
		ch <- d
	}
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()
	reached := 0.0
	if s.CacheCapacityReached {
		reached = 1
	}
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.HitCount))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.MissCount))
	ch <- prometheus.MustNewConstMetric(c.loads, prometheus.CounterValue, float64(s.LoadSuccessCount))
	ch <- prometheus.MustNewConstMetric(c.loadErrors, prometheus.CounterValue, float64(s.LoadExceptionCount))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.EvictionCount))
	ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(s.GraphMemoryUsageKB))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.IndicesInCache))
	ch <- prometheus.MustNewConstMetric(c.capacityReached, prometheus.GaugeValue, reached)
}
