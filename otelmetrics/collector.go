// Package otelmetrics reports knnlib operations through an OpenTelemetry
// meter.
//
//	c, err := otelmetrics.New(otel.GetMeterProvider().Meter("knnlib"))
//	res, err := knnlib.Build(ctx, req, knnlib.WithMetricsCollector(c))
package otelmetrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hupe1980/knnlib"
)

// Collector implements knnlib.MetricsCollector.
type Collector struct {
	builds       metric.Int64Counter
	buildVectors metric.Int64Counter
	buildTime    metric.Float64Histogram
	loads        metric.Int64Counter
	loadTime     metric.Float64Histogram
	queries      metric.Int64Counter
	queryTime    metric.Float64Histogram
	evictions    metric.Int64Counter
}

var _ knnlib.MetricsCollector = (*Collector)(nil)

// New creates the instruments on meter.
func New(meter metric.Meter) (*Collector, error) {
	var (
		c    Collector
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		ctr, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return ctr
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}

	c.builds = counter("knnlib.build.requests", "Index builds by outcome")
	c.buildVectors = counter("knnlib.build.vectors", "Vectors added to built indexes")
	c.buildTime = histogram("knnlib.build.duration", "Index build latency")
	c.loads = counter("knnlib.load.requests", "Index loads by outcome")
	c.loadTime = histogram("knnlib.load.duration", "Index load latency")
	c.queries = counter("knnlib.query.requests", "Queries by outcome")
	c.queryTime = histogram("knnlib.query.duration", "Query latency")
	c.evictions = counter("knnlib.cache.evictions", "Cache evictions by reason")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &c, nil
}

func status(err error) metric.MeasurementOption {
	if err != nil {
		return metric.WithAttributes(attribute.String("status", "error"))
	}
	return metric.WithAttributes(attribute.String("status", "success"))
}

func (c *Collector) RecordBuild(count int, d time.Duration, err error) {
	ctx := context.Background()
	c.builds.Add(ctx, 1, status(err))
	c.buildTime.Record(ctx, d.Seconds(), status(err))
	if err == nil {
		c.buildVectors.Add(ctx, int64(count))
	}
}

func (c *Collector) RecordLoad(d time.Duration, err error) {
	ctx := context.Background()
	c.loads.Add(ctx, 1, status(err))
	c.loadTime.Record(ctx, d.Seconds(), status(err))
}

func (c *Collector) RecordQuery(_ int, d time.Duration, err error) {
	ctx := context.Background()
	c.queries.Add(ctx, 1, status(err))
	c.queryTime.Record(ctx, d.Seconds(), status(err))
}

func (c *Collector) RecordEviction(reason string) {
	c.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
