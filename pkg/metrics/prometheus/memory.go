// Package prometheus implements the domain metric interfaces on top of
// the shared registry in pkg/metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/metrics"
)

func init() {
	metrics.RegisterMemoryMetricsConstructor(newMemoryMetrics)
}

type memoryMetrics struct {
	allocations *prometheus.CounterVec
	frees       prometheus.Counter
	allocBytes  *prometheus.HistogramVec
	usage       prometheus.Gauge
	oomEvents   prometheus.Counter
	leaksFreed  prometheus.Counter
}

func newMemoryMetrics() memory.Metrics {
	reg := metrics.GetRegistry()
	return &memoryMetrics{
		allocations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinata_memory_allocations_total",
				Help: "Total allocations by backing source",
			},
			[]string{"source"}, // "pool", "direct"
		),
		frees: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "hinata_memory_frees_total",
				Help: "Total freed allocations",
			},
		),
		allocBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "hinata_memory_allocation_bytes",
				Help: "Distribution of allocation sizes",
				Buckets: []float64{
					32, 64, 128, 256, 512,
					1024, 2048, 4096, // pool ladder
					65536, 1048576, 16777216,
				},
			},
			[]string{"source"},
		),
		usage: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "hinata_memory_usage_bytes",
				Help: "Currently allocated bytes",
			},
		),
		oomEvents: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "hinata_memory_oom_events_total",
				Help: "Allocations refused by size or usage limits",
			},
		),
		leaksFreed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "hinata_memory_leaks_freed_total",
				Help: "Tracked blocks force-freed at shutdown",
			},
		),
	}
}

func (m *memoryMetrics) ObserveAlloc(size int, pooled bool) {
	source := "direct"
	if pooled {
		source = "pool"
	}
	m.allocations.WithLabelValues(source).Inc()
	m.allocBytes.WithLabelValues(source).Observe(float64(size))
}

func (m *memoryMetrics) ObserveFree(size int) {
	m.frees.Inc()
}

func (m *memoryMetrics) RecordUsage(bytes uint64) {
	m.usage.Set(float64(bytes))
}

func (m *memoryMetrics) RecordOOM() {
	m.oomEvents.Inc()
}

func (m *memoryMetrics) RecordLeaks(n int) {
	m.leaksFreed.Add(float64(n))
}
