package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/notcontrolos/hinata/pkg/metrics"
	"github.com/notcontrolos/hinata/pkg/storage"
)

func init() {
	metrics.RegisterStorageMetricsConstructor(newStorageMetrics)
}

type storageMetrics struct {
	stores     prometheus.Counter
	storeBytes prometheus.Histogram
	loads      *prometheus.CounterVec
	deletes    prometheus.Counter
	regions    prometheus.Gauge
	cacheCount prometheus.Gauge
	cacheBytes prometheus.Gauge
}

func newStorageMetrics() storage.Metrics {
	reg := metrics.GetRegistry()
	return &storageMetrics{
		stores: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "hinata_storage_stores_total",
				Help: "Total packets stored",
			},
		),
		storeBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "hinata_storage_store_bytes",
				Help: "Distribution of stored record sizes",
				Buckets: []float64{
					256, 1024, 4096, 16384,
					65536, 262144, 1048576, 4194304, 16777216,
				},
			},
		),
		loads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinata_storage_loads_total",
				Help: "Total packet loads by cache outcome",
			},
			[]string{"status"}, // "hit", "miss"
		),
		deletes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "hinata_storage_deletes_total",
				Help: "Total packets deleted",
			},
		),
		regions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "hinata_storage_regions",
				Help: "Number of open regions",
			},
		),
		cacheCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "hinata_storage_cache_entries",
				Help: "Packets held by the storage cache",
			},
		),
		cacheBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "hinata_storage_cache_bytes",
				Help: "Bytes held by the storage cache",
			},
		),
	}
}

func (m *storageMetrics) ObserveStore(bytes int) {
	m.stores.Inc()
	m.storeBytes.Observe(float64(bytes))
}

func (m *storageMetrics) ObserveLoad(cacheHit bool) {
	status := "miss"
	if cacheHit {
		status = "hit"
	}
	m.loads.WithLabelValues(status).Inc()
}

func (m *storageMetrics) ObserveDelete() {
	m.deletes.Inc()
}

func (m *storageMetrics) RecordRegions(n int) {
	m.regions.Set(float64(n))
}

func (m *storageMetrics) RecordCacheUsage(entries int, bytes uint64) {
	m.cacheCount.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}
