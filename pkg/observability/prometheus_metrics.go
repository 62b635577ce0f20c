package observability

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsClient implements MetricsClient using Prometheus.
// Each client owns its registry so several clients can coexist in one
// process. Metric vectors are created on first use; a name keeps the label
// set it was first recorded with.
type PrometheusMetricsClient struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
	factory   promauto.Factory
	common    prometheus.Labels

	cacheOps      *prometheus.CounterVec
	cacheDuration *prometheus.HistogramVec
	editOps       *prometheus.CounterVec
	editDuration  *prometheus.HistogramVec

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a new Prometheus metrics client
func NewPrometheusMetricsClient(namespace, subsystem string, commonLabels map[string]string) *PrometheusMetricsClient {
	registry := prometheus.NewRegistry()
	c := &PrometheusMetricsClient{
		namespace:  namespace,
		subsystem:  subsystem,
		registry:   registry,
		factory:    promauto.With(registry),
		common:     prometheus.Labels{},
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for k, v := range commonLabels {
		c.common[k] = v
	}

	c.cacheOps = c.counterVec("cache_operations_total", "Glyph cache lookups by operation and result.", "operation", "result")
	c.cacheDuration = c.histogramVec("cache_operation_duration_seconds", "Glyph cache lookup latency.", "operation")
	c.editOps = c.counterVec("edit_operations_total", "Edit lifecycle steps by operation and status.", "operation", "status")
	c.editDuration = c.histogramVec("edit_operation_duration_seconds", "Edit lifecycle step latency.", "operation")
	return c
}

// Registry returns the registry backing this client
func (c *PrometheusMetricsClient) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing this client's metrics
func (c *PrometheusMetricsClient) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *PrometheusMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.counters[name]
	if !ok {
		vec = c.counterVec(name, "Counter for "+name, sortedKeys(labels)...)
		c.counters[name] = vec
	}
	c.mu.Unlock()
	vec.With(c.values(labels)).Add(value)
}

func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.gauges[name]
	if !ok {
		vec = c.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: c.subsystem,
			Name:      name,
			Help:      "Gauge for " + name,
		}, c.labelNames(sortedKeys(labels)))
		c.gauges[name] = vec
	}
	c.mu.Unlock()
	vec.With(c.values(labels)).Set(value)
}

func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	vec, ok := c.histograms[name]
	if !ok {
		vec = c.histogramVec(name, "Histogram for "+name, sortedKeys(labels)...)
		c.histograms[name] = vec
	}
	c.mu.Unlock()
	vec.With(c.values(labels)).Observe(value)
}

// RecordCacheOperation records a glyph cache lookup
func (c *PrometheusMetricsClient) RecordCacheOperation(operation string, hit bool, duration time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheOps.With(c.values(map[string]string{"operation": operation, "result": result})).Inc()
	c.cacheDuration.With(c.values(map[string]string{"operation": operation})).Observe(duration.Seconds())
}

// RecordEditOperation records an edit lifecycle step
func (c *PrometheusMetricsClient) RecordEditOperation(operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.editOps.With(c.values(map[string]string{"operation": operation, "status": status})).Inc()
	c.editDuration.With(c.values(map[string]string{"operation": operation})).Observe(duration.Seconds())
}

func (c *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	c.RecordCounter(name, value, nil)
}

func (c *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	c.RecordCounter(name, value, labels)
}

// StartTimer returns a function that records the elapsed seconds
func (c *PrometheusMetricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		c.RecordHistogram(name, time.Since(start).Seconds(), labels)
	}
}

// Close is a no-op; the registry lives as long as the client
func (c *PrometheusMetricsClient) Close() error {
	return nil
}

func (c *PrometheusMetricsClient) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return c.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      help,
	}, c.labelNames(labels))
}

func (c *PrometheusMetricsClient) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	buckets := prometheus.DefBuckets
	if strings.HasPrefix(name, "cache_") {
		// Cache hits are sub-millisecond.
		buckets = prometheus.ExponentialBuckets(0.00001, 4, 10)
	}
	return c.factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, c.labelNames(labels))
}

// labelNames adds the common label names to a metric's own.
func (c *PrometheusMetricsClient) labelNames(own []string) []string {
	names := append([]string{}, own...)
	for name := range c.common {
		if _, clash := indexOf(own, name); !clash {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (c *PrometheusMetricsClient) values(labels map[string]string) prometheus.Labels {
	merged := make(prometheus.Labels, len(c.common)+len(labels))
	for k, v := range c.common {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return merged
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(names []string, name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return -1, false
}
