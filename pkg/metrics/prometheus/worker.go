package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/notcontrolos/hinata/pkg/metrics"
	"github.com/notcontrolos/hinata/pkg/worker"
)

func init() {
	metrics.RegisterWorkerMetricsConstructor(newWorkerMetrics)
}

type workerMetrics struct {
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	activeWorkers prometheus.Gauge
}

func newWorkerMetrics() worker.Metrics {
	reg := metrics.GetRegistry()
	return &workerMetrics{
		tasks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hinata_worker_tasks_total",
				Help: "Finished tasks by type and terminal state",
			},
			[]string{"type", "state"},
		),
		taskDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "hinata_worker_task_duration_milliseconds",
				Help: "Task function runtime in milliseconds",
				Buckets: []float64{
					1, 5, 10, 50, 100,
					500, 1000, 5000, 30000,
				},
			},
			[]string{"type"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hinata_worker_queue_depth",
				Help: "Queued tasks per priority lane",
			},
			[]string{"lane"},
		),
		activeWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "hinata_worker_active_workers",
				Help: "Workers currently running a task",
			},
		),
	}
}

func (m *workerMetrics) ObserveTask(typ string, state string, duration time.Duration) {
	m.tasks.WithLabelValues(typ, state).Inc()
	m.taskDuration.WithLabelValues(typ).Observe(duration.Seconds() * 1000)
}

var laneLabels = [worker.NumLanes]string{"0", "1", "2", "3", "4", "5", "6", "7"}

func (m *workerMetrics) RecordQueueDepth(lane int, depth int) {
	if lane < 0 || lane >= worker.NumLanes {
		return
	}
	m.queueDepth.WithLabelValues(laneLabels[lane]).Set(float64(depth))
}

func (m *workerMetrics) RecordActiveWorkers(n int) {
	m.activeWorkers.Set(float64(n))
}
