// Package metrics provides metrics collection for the GRC SDK.
// It includes the Collector interface, a Prometheus implementation, an
// in-memory implementation for tests and a no-op implementation.
package metrics

import (
	"net/http"
	"sync"
	"time"
)

// =============================================================================
// Metrics Interface
// =============================================================================

// Collector is the interface for collecting and reporting metrics.
// Labels are passed as name/value pairs.
type Collector interface {
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler

	// Reset clears all metrics (for testing)
	Reset()
}

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"`
}

// =============================================================================
// Default Metrics
// =============================================================================

var (
	// Backend transport
	HTTPRequestsTotal = MetricDefinition{
		Name:   "grc_http_requests_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of backend HTTP requests",
		Labels: []string{"method", "resource", "status"},
	}
	HTTPRequestDuration = MetricDefinition{
		Name:    "grc_http_request_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of backend HTTP requests in seconds",
		Labels:  []string{"method", "resource"},
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
	HTTPRetries = MetricDefinition{
		Name:   "grc_http_retries_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of retried idempotent backend requests",
		Labels: []string{"resource"},
	}

	// Promotion
	PromotionsTotal = MetricDefinition{
		Name:   "grc_promotions_total",
		Type:   MetricTypeCounter,
		Help:   "Finding to risk promotions by outcome",
		Labels: []string{"status"},
	}
	PromotionCompensations = MetricDefinition{
		Name:   "grc_promotion_compensations_total",
		Type:   MetricTypeCounter,
		Help:   "Compensating risk deletions after a failed promotion",
		Labels: []string{"status"},
	}
	MappingWrites = MetricDefinition{
		Name:   "grc_mapping_writes_total",
		Type:   MetricTypeCounter,
		Help:   "Link table and mapping writes by table and outcome",
		Labels: []string{"table", "status"},
	}

	// Dashboard
	DashboardRefreshes = MetricDefinition{
		Name:   "grc_dashboard_refreshes_total",
		Type:   MetricTypeCounter,
		Help:   "Executive dashboard refreshes by outcome",
		Labels: []string{"status"},
	}
	DashboardRefreshSkipped = MetricDefinition{
		Name:   "grc_dashboard_refresh_skipped_total",
		Type:   MetricTypeCounter,
		Help:   "Refresh ticks skipped because a refresh was still in flight",
		Labels: []string{},
	}
	DashboardScore = MetricDefinition{
		Name:   "grc_dashboard_score",
		Type:   MetricTypeGauge,
		Help:   "Latest dashboard score per client and score kind",
		Labels: []string{"client", "kind"},
	}
	CacheLookups = MetricDefinition{
		Name:   "grc_cache_lookups_total",
		Type:   MetricTypeCounter,
		Help:   "Dashboard cache lookups by result",
		Labels: []string{"result"},
	}

	// Retry outbox
	OutboxPending = MetricDefinition{
		Name:   "grc_outbox_pending",
		Type:   MetricTypeGauge,
		Help:   "Best-effort writes waiting in the retry outbox",
		Labels: []string{},
	}
	OutboxReplays = MetricDefinition{
		Name:   "grc_outbox_replays_total",
		Type:   MetricTypeCounter,
		Help:   "Outbox replay attempts by outcome",
		Labels: []string{"status"},
	}
)

// DefaultDefinitions returns every metric the SDK emits.
func DefaultDefinitions() []MetricDefinition {
	return []MetricDefinition{
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRetries,
		PromotionsTotal, PromotionCompensations, MappingWrites,
		DashboardRefreshes, DashboardRefreshSkipped, DashboardScore, CacheLookups,
		OutboxPending, OutboxReplays,
	}
}

// =============================================================================
// NopCollector
// =============================================================================

// NopCollector is a no-op metrics collector that discards all metrics.
type NopCollector struct{}

func (c *NopCollector) CounterInc(name string, labels ...string)                      {}
func (c *NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (c *NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (c *NopCollector) GaugeInc(name string, labels ...string)                        {}
func (c *NopCollector) GaugeDec(name string, labels ...string)                        {}
func (c *NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (c *NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }
func (c *NopCollector) Reset()                                                        {}

// =============================================================================
// InMemoryCollector
// =============================================================================

// InMemoryCollector stores metrics in memory for testing purposes.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	key := name
	for i := 0; i < len(labels); i += 2 {
		if i+1 < len(labels) {
			key += "," + labels[i] + "=" + labels[i+1]
		}
	}
	return key
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]++
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]--
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]float64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histograms[c.key(name, labels)]
}

// =============================================================================
// Timer
// =============================================================================

// Timer records the time elapsed since its creation into a histogram.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer creates a new timer that will record to the given histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: collector,
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the duration since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

// =============================================================================
// Defaults
// =============================================================================

// OrNop returns c, or a NopCollector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return &NopCollector{}
	}
	return c
}

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
