package knnlib

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// otelmetrics package provides an OpenTelemetry implementation.
type MetricsCollector interface {
	// RecordBuild is called after each build. count is the number of vectors.
	RecordBuild(count int, duration time.Duration, err error)

	// RecordLoad is called after each load.
	RecordLoad(duration time.Duration, err error)

	// RecordQuery is called after each query.
	RecordQuery(k int, duration time.Duration, err error)

	// RecordEviction is called when the cache drops an index.
	RecordEviction(reason string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordLoad(time.Duration, error)       {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordEviction(string)                 {}

// BasicMetricsCollector provides simple in-memory counters.
type BasicMetricsCollector struct {
	GraphIndexRequests atomic.Int64
	GraphIndexErrors   atomic.Int64
	IndexedVectors     atomic.Int64
	BuildTotalNanos    atomic.Int64
	GraphQueryRequests atomic.Int64
	GraphQueryErrors   atomic.Int64
	QueryTotalNanos    atomic.Int64
	LoadSuccess        atomic.Int64
	LoadErrors         atomic.Int64
	LoadTotalNanos     atomic.Int64
	Evictions          atomic.Int64
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(count int, duration time.Duration, err error) {
	b.GraphIndexRequests.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GraphIndexErrors.Add(1)
		return
	}
	b.IndexedVectors.Add(int64(count))
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, err error) {
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
		return
	}
	b.LoadSuccess.Add(1)
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(k int, duration time.Duration, err error) {
	b.GraphQueryRequests.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GraphQueryErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(string) {
	b.Evictions.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GraphIndexRequests: b.GraphIndexRequests.Load(),
		GraphIndexErrors:   b.GraphIndexErrors.Load(),
		IndexedVectors:     b.IndexedVectors.Load(),
		GraphQueryRequests: b.GraphQueryRequests.Load(),
		GraphQueryErrors:   b.GraphQueryErrors.Load(),
		QueryAvgNanos:      avg(b.QueryTotalNanos.Load(), b.GraphQueryRequests.Load()),
		LoadSuccess:        b.LoadSuccess.Load(),
		LoadErrors:         b.LoadErrors.Load(),
		LoadTotalNanos:     b.LoadTotalNanos.Load(),
		Evictions:          b.Evictions.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GraphIndexRequests int64 `json:"graph_index_requests"`
	GraphIndexErrors   int64 `json:"graph_index_errors"`
	IndexedVectors     int64 `json:"indexed_vectors"`
	GraphQueryRequests int64 `json:"graph_query_requests"`
	GraphQueryErrors   int64 `json:"graph_query_errors"`
	QueryAvgNanos      int64 `json:"query_avg_nanos"`
	LoadSuccess        int64 `json:"load_success_count"`
	LoadErrors         int64 `json:"load_exception_count"`
	LoadTotalNanos     int64 `json:"total_load_time"`
	Evictions          int64 `json:"eviction_count"`
}
