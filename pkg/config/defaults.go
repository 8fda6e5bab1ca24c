package config

import (
	"strings"
	"time"

	"github.com/notcontrolos/hinata/internal/bytesize"
	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/storage"
	"github.com/notcontrolos/hinata/pkg/worker"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyMemoryDefaults(&cfg.Memory)
	applyStorageDefaults(&cfg.Storage)
	applyWorkerDefaults(&cfg.Worker)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyAPIDefaults sets management API server defaults.
func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyMemoryDefaults sets allocator defaults.
func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.MaxSingle == 0 {
		cfg.MaxSingle = bytesize.ByteSize(memory.DefaultMaxSingle)
	}
	if cfg.MaxTotal == 0 {
		cfg.MaxTotal = bytesize.ByteSize(memory.DefaultMaxTotal)
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = memory.DefaultGCInterval
	}
	if cfg.IdleAge == 0 {
		cfg.IdleAge = memory.DefaultIdleAge
	}
}

// applyStorageDefaults sets persistence layer defaults.
// Dir has no default, it is required and must be configured by the user.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.MaxRegions == 0 {
		cfg.MaxRegions = storage.DefaultMaxRegions
	}
	if cfg.RegionCapacity == 0 {
		cfg.RegionCapacity = bytesize.ByteSize(storage.DefaultRegionCapacity)
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 30 * time.Second
	}
	if cfg.Validation == "" {
		cfg.Validation = "standard"
	}
	cfg.Validation = strings.ToLower(cfg.Validation)
	if cfg.Compression == "" {
		cfg.Compression = "none"
	}
	if cfg.Encryption == "" {
		cfg.Encryption = "none"
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = storage.DefaultCacheEntries
	}
	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache.MaxBytes = bytesize.ByteSize(storage.DefaultCacheBytes)
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = storage.DefaultCacheTTL
	}
}

// applyWorkerDefaults sets task pool defaults.
// Workers defaults to zero, which lets the pool size itself from NumCPU.
func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = worker.DefaultQueueDepth
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = worker.DefaultTaskTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = worker.DefaultIdleTimeout
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = worker.DefaultHealthInterval
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		API: APIConfig{
			Enabled: true,
		},
		Memory: MemoryConfig{
			Tracking: true,
		},
		Storage: StorageConfig{
			Dir: "/tmp/hinata-data",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
