package metrics

import (
	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/storage"
	"github.com/notcontrolos/hinata/pkg/worker"
)

// The Prometheus implementations live in pkg/metrics/prometheus and
// register their constructors at init. The indirection keeps this package
// free of an import on the implementation package and the implementation
// package free of an import cycle through the domain packages.

var (
	newMemoryMetrics  func() memory.Metrics
	newStorageMetrics func() storage.Metrics
	newWorkerMetrics  func() worker.Metrics
)

// RegisterMemoryMetricsConstructor is called by the prometheus package.
func RegisterMemoryMetricsConstructor(fn func() memory.Metrics) {
	newMemoryMetrics = fn
}

// RegisterStorageMetricsConstructor is called by the prometheus package.
func RegisterStorageMetricsConstructor(fn func() storage.Metrics) {
	newStorageMetrics = fn
}

// RegisterWorkerMetricsConstructor is called by the prometheus package.
func RegisterWorkerMetricsConstructor(fn func() worker.Metrics) {
	newWorkerMetrics = fn
}

// NewMemoryMetrics returns the allocator metric set, or nil when metrics
// are disabled. A nil return is safe to pass to memory.NewManager.
func NewMemoryMetrics() memory.Metrics {
	if !IsEnabled() || newMemoryMetrics == nil {
		return nil
	}
	return newMemoryMetrics()
}

// NewStorageMetrics returns the storage metric set, or nil when metrics
// are disabled.
func NewStorageMetrics() storage.Metrics {
	if !IsEnabled() || newStorageMetrics == nil {
		return nil
	}
	return newStorageMetrics()
}

// NewWorkerMetrics returns the worker pool metric set, or nil when
// metrics are disabled.
func NewWorkerMetrics() worker.Metrics {
	if !IsEnabled() || newWorkerMetrics == nil {
		return nil
	}
	return newWorkerMetrics()
}
