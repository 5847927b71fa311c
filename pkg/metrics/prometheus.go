package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector on a Prometheus registry.
//
// Metrics must be registered before use; updates to unknown names, or with
// label names that do not match the definition, are dropped.
type PrometheusCollector struct {
	mu       sync.RWMutex
	registry *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// PrometheusConfig configures the Prometheus collector.
type PrometheusConfig struct {
	// Registry to register on. Nil creates one with the Go and process
	// collectors already registered.
	Registry *prometheus.Registry

	// RegisterDefaultMetrics registers every DefaultDefinitions metric.
	RegisterDefaultMetrics bool
}

func NewPrometheusCollector(cfg *PrometheusConfig) *PrometheusCollector {
	if cfg == nil {
		cfg = &PrometheusConfig{}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &PrometheusCollector{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	if cfg.RegisterDefaultMetrics {
		for _, def := range DefaultDefinitions() {
			_ = c.Register(def)
		}
	}
	return c
}

// Register adds def to the registry. Registering a name twice is a no-op.
func (c *PrometheusCollector) Register(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.known(def.Name) {
		return nil
	}

	var vec prometheus.Collector
	switch def.Type {
	case MetricTypeCounter:
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: def.Name, Help: def.Help}, def.Labels)
		c.counters[def.Name] = cv
		vec = cv
	case MetricTypeGauge:
		gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: def.Name, Help: def.Help}, def.Labels)
		c.gauges[def.Name] = gv
		vec = gv
	case MetricTypeHistogram:
		buckets := def.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: def.Name, Help: def.Help, Buckets: buckets}, def.Labels)
		c.histograms[def.Name] = hv
		vec = hv
	default:
		return fmt.Errorf("unsupported metric type %q for %s", def.Type, def.Name)
	}

	if err := c.registry.Register(vec); err != nil {
		delete(c.counters, def.Name)
		delete(c.gauges, def.Name)
		delete(c.histograms, def.Name)
		return fmt.Errorf("register %s: %w", def.Name, err)
	}
	return nil
}

func (c *PrometheusCollector) known(name string) bool {
	_, counter := c.counters[name]
	_, gauge := c.gauges[name]
	_, histogram := c.histograms[name]
	return counter || gauge || histogram
}

func (c *PrometheusCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *PrometheusCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.RLock()
	vec, ok := c.counters[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if m, err := vec.GetMetricWith(pairsToLabels(labels)); err == nil {
		m.Add(value)
	}
}

func (c *PrometheusCollector) gauge(name string, labels []string) prometheus.Gauge {
	c.mu.RLock()
	vec, ok := c.gauges[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	m, err := vec.GetMetricWith(pairsToLabels(labels))
	if err != nil {
		return nil
	}
	return m
}

func (c *PrometheusCollector) GaugeSet(name string, value float64, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Set(value)
	}
}

func (c *PrometheusCollector) GaugeInc(name string, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Inc()
	}
}

func (c *PrometheusCollector) GaugeDec(name string, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Dec()
	}
}

func (c *PrometheusCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.RLock()
	vec, ok := c.histograms[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if m, err := vec.GetMetricWith(pairsToLabels(labels)); err == nil {
		m.Observe(value)
	}
}

// Handler serves the registry in the OpenMetrics format when negotiated.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Reset clears counters and gauges. Histograms keep their observations.
func (c *PrometheusCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.counters {
		v.Reset()
	}
	for _, v := range c.gauges {
		v.Reset()
	}
}

func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// pairsToLabels turns ["status", "ok", "table", "x"] into a label set.
// A trailing name without a value is ignored.
func pairsToLabels(pairs []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		labels[pairs[i]] = pairs[i+1]
	}
	return labels
}

var _ Collector = (*PrometheusCollector)(nil)
