// Package metrics wraps prometheus collectors for cache operation metrics
// and provides an instrumenting Cache decorator.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oriys/pulsar/internal/cache"
)

// CacheMetrics wraps prometheus collectors for cache operations.
type CacheMetrics struct {
	registry *prometheus.Registry

	opsTotal    *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	gcRemoved   prometheus.Counter
	opDuration  *prometheus.HistogramVec
}

// Default histogram buckets for operation duration (in milliseconds).
var defaultBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}

var cacheMetrics *CacheMetrics

// Init initializes the Prometheus metrics subsystem.
func Init(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &CacheMetrics{
		registry: registry,

		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Total cache operations by backend, operation, and status",
			},
			[]string{"backend", "op", "status"},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total storage faults surfaced by cache operations",
			},
			[]string{"backend", "op"},
		),

		gcRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_gc_removed_total",
				Help:      "Total entries removed by garbage collection",
			},
		),

		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_operation_duration_ms",
				Help:      "Cache operation duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"backend", "op"},
		),
	}

	registry.MustRegister(m.opsTotal, m.errorsTotal, m.gcRemoved, m.opDuration)
	cacheMetrics = m
}

// Handler returns the HTTP handler serving the metrics registry, or a 404
// handler when metrics were never initialized.
func Handler() http.Handler {
	if cacheMetrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(cacheMetrics.registry, promhttp.HandlerOpts{})
}

func record(backend, op string, start time.Time, err error) {
	if cacheMetrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		cacheMetrics.errorsTotal.WithLabelValues(backend, op).Inc()
	}
	cacheMetrics.opsTotal.WithLabelValues(backend, op, status).Inc()
	cacheMetrics.opDuration.WithLabelValues(backend, op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// Instrumented decorates a Cache with operation counters and latency
// histograms. It adds no behavior of its own; every call delegates to the
// wrapped backend.
type Instrumented struct {
	inner   cache.Cache
	backend string
}

// NewInstrumented wraps c, labeling its metrics with the backend name.
func NewInstrumented(c cache.Cache, backend string) *Instrumented {
	return &Instrumented{inner: c, backend: backend}
}

// Unwrap exposes the wrapped backend so callers can recover optional
// capability interfaces such as cache.Collector.
func (i *Instrumented) Unwrap() cache.Cache { return i.inner }

func (i *Instrumented) Get(ctx context.Context, key string, def any) (any, error) {
	start := time.Now()
	v, err := i.inner.Get(ctx, key, def)
	record(i.backend, "get", start, err)
	return v, err
}

func (i *Instrumented) Set(ctx context.Context, key string, value any, ttl cache.TTL) (bool, error) {
	start := time.Now()
	ok, err := i.inner.Set(ctx, key, value, ttl)
	record(i.backend, "set", start, err)
	return ok, err
}

func (i *Instrumented) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.inner.Delete(ctx, key)
	record(i.backend, "delete", start, err)
	return ok, err
}

func (i *Instrumented) Clear(ctx context.Context) (bool, error) {
	start := time.Now()
	ok, err := i.inner.Clear(ctx)
	record(i.backend, "clear", start, err)
	return ok, err
}

func (i *Instrumented) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.inner.Has(ctx, key)
	record(i.backend, "has", start, err)
	return ok, err
}

func (i *Instrumented) GetMulti(ctx context.Context, keys []string, def any) (map[string]any, error) {
	start := time.Now()
	out, err := i.inner.GetMulti(ctx, keys, def)
	record(i.backend, "getmulti", start, err)
	return out, err
}

func (i *Instrumented) SetMulti(ctx context.Context, values map[string]any, ttl cache.TTL) (bool, error) {
	start := time.Now()
	ok, err := i.inner.SetMulti(ctx, values, ttl)
	record(i.backend, "setmulti", start, err)
	return ok, err
}

func (i *Instrumented) DeleteMulti(ctx context.Context, keys []string) (bool, error) {
	start := time.Now()
	ok, err := i.inner.DeleteMulti(ctx, keys)
	record(i.backend, "deletemulti", start, err)
	return ok, err
}

func (i *Instrumented) SetMode(m cache.Mode) { i.inner.SetMode(m) }

// GC delegates when the wrapped backend supports collection and feeds the
// removal count into the gc counter.
func (i *Instrumented) GC(ctx context.Context) (int, error) {
	col, ok := i.inner.(cache.Collector)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	n, err := col.GC(ctx)
	record(i.backend, "gc", start, err)
	if cacheMetrics != nil && err == nil {
		cacheMetrics.gcRemoved.Add(float64(n))
	}
	return n, err
}
