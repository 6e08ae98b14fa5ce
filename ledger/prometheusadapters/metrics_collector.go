// Package prometheusadapters provides a Prometheus implementation of the ledger metrics interfaces.
//
// Vectors are created on first use and registered on the given prometheus.Registerer,
// so the engine and the PostgreSQL store can share one collector:
//
//	registry := prometheus.NewRegistry()
//	metrics := prometheusadapters.NewMetricsCollector(registry)
//	e, err := engine.New(store, engine.WithMetrics(metrics))
package prometheusadapters

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	helpDuration = "Lending ledger duration in seconds."
	helpCounter  = "Lending ledger counter."
	helpGauge    = "Lending ledger current value."
)

// MetricsCollector implements ledger.MetricsCollector and ledger.ContextualMetricsCollector:
//   - RecordDuration -> HistogramVec in seconds
//   - IncrementCounter -> CounterVec
//   - RecordValue -> GaugeVec
//
// The label names of a vector are fixed by its first observation. Observations with a different
// label set are dropped, as Prometheus requires a stable label set per metric.
type MetricsCollector struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// Option configures the MetricsCollector.
type Option func(*MetricsCollector)

// WithBuckets sets the histogram buckets in seconds. Defaults to prometheus.DefBuckets.
func WithBuckets(buckets []float64) Option {
	return func(m *MetricsCollector) {
		m.buckets = buckets
	}
}

// NewMetricsCollector creates a collector that registers its vectors on registerer.
func NewMetricsCollector(registerer prometheus.Registerer, options ...Option) *MetricsCollector {
	m := &MetricsCollector{
		registerer: registerer,
		buckets:    prometheus.DefBuckets,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// RecordDuration observes a duration in seconds.
func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	vec := m.histogramVec(metric, labels)
	if vec == nil {
		return
	}

	if observer, err := vec.GetMetricWith(labels); err == nil {
		observer.Observe(duration.Seconds())
	}
}

// RecordDurationContext observes a duration in seconds. The context is not used.
func (m *MetricsCollector) RecordDurationContext(_ context.Context, metric string, duration time.Duration, labels map[string]string) {
	m.RecordDuration(metric, duration, labels)
}

// IncrementCounter adds one to a counter.
func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	vec := m.counterVec(metric, labels)
	if vec == nil {
		return
	}

	if counter, err := vec.GetMetricWith(labels); err == nil {
		counter.Inc()
	}
}

// IncrementCounterContext adds one to a counter. The context is not used.
func (m *MetricsCollector) IncrementCounterContext(_ context.Context, metric string, labels map[string]string) {
	m.IncrementCounter(metric, labels)
}

// RecordValue sets a gauge.
func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	vec := m.gaugeVec(metric, labels)
	if vec == nil {
		return
	}

	if gauge, err := vec.GetMetricWith(labels); err == nil {
		gauge.Set(value)
	}
}

// RecordValueContext sets a gauge. The context is not used.
func (m *MetricsCollector) RecordValueContext(_ context.Context, metric string, value float64, labels map[string]string) {
	m.RecordValue(metric, value, labels)
}

func (m *MetricsCollector) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, exists := m.histograms[name]; exists {
		return vec
	}

	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: name, Help: helpDuration, Buckets: m.buckets},
		labelNames(labels),
	)

	registered, ok := register(m.registerer, vec).(*prometheus.HistogramVec)
	if !ok {
		return nil
	}

	m.histograms[name] = registered

	return registered
}

func (m *MetricsCollector) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, exists := m.counters[name]; exists {
		return vec
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpCounter}, labelNames(labels))

	registered, ok := register(m.registerer, vec).(*prometheus.CounterVec)
	if !ok {
		return nil
	}

	m.counters[name] = registered

	return registered
}

func (m *MetricsCollector) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, exists := m.gauges[name]; exists {
		return vec
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpGauge}, labelNames(labels))

	registered, ok := register(m.registerer, vec).(*prometheus.GaugeVec)
	if !ok {
		return nil
	}

	m.gauges[name] = registered

	return registered
}

// register returns the collector that ends up registered: c itself, an identical collector
// registered earlier, or nil if the registration was rejected.
func register(registerer prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	err := registerer.Register(c)
	if err == nil {
		return c
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		return alreadyRegistered.ExistingCollector
	}

	return nil
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

var (
	_ ledger.MetricsCollector           = (*MetricsCollector)(nil)
	_ ledger.ContextualMetricsCollector = (*MetricsCollector)(nil)
)
