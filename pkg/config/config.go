// Package config loads, validates, and persists the hinata daemon
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (HINATA_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/notcontrolos/hinata/internal/bytesize"
	"github.com/notcontrolos/hinata/internal/logger"
	"github.com/notcontrolos/hinata/internal/telemetry"
	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/packet/validate"
	"github.com/notcontrolos/hinata/pkg/storage"
	"github.com/notcontrolos/hinata/pkg/worker"
)

// Config represents the hinata daemon configuration.
//
// This structure captures the static configuration of the daemon:
//   - Logging configuration
//   - Telemetry/tracing and continuous profiling
//   - Metrics and HTTP API servers
//   - Memory manager limits and garbage collection
//   - Storage layer (regions, cache, validation, sync cadence)
//   - Worker pool sizing and timeouts
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the HTTP management API server configuration
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Memory configures the pooled allocator limits and leak sweeper
	Memory MemoryConfig `mapstructure:"memory" yaml:"memory"`

	// Storage configures regions, the packet cache, and validation
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Worker configures the priority task pool
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// LoggerConfig converts the section into the internal logger configuration.
func (c LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Level,
		Format: c.Format,
		Output: c.Output,
	}
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// TracingConfig converts the section into the internal telemetry
// configuration for the given service version.
func (c TelemetryConfig) TracingConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Enabled,
		ServiceName:    "hinata",
		ServiceVersion: version,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope
// server for flame graph visualization.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// PyroscopeConfig converts the section into the internal profiling
// configuration for the given service version.
func (c ProfilingConfig) PyroscopeConfig(version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Enabled,
		ServiceName:    "hinata",
		ServiceVersion: version,
		Endpoint:       c.Endpoint,
		ProfileTypes:   c.ProfileTypes,
	}
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// APIConfig configures the HTTP management API server.
type APIConfig struct {
	// Enabled controls whether the management API server is started
	// Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the management API
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout bounds how long reading a request may take
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds how long writing a response may take
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is how long keep-alive connections are held open
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// MemoryConfig configures the pooled allocator.
type MemoryConfig struct {
	// MaxSingle is the largest single allocation allowed
	// Supports human-readable formats: "16Mi", "64MB"
	// Default: 16MiB
	MaxSingle bytesize.ByteSize `mapstructure:"max_single" yaml:"max_single"`

	// MaxTotal is the total allocator usage cap
	// Default: 1GiB
	MaxTotal bytesize.ByteSize `mapstructure:"max_total" yaml:"max_total"`

	// Tracking enables the allocation tracking table and leak detection
	// Default: true
	Tracking bool `mapstructure:"tracking" yaml:"tracking"`

	// GCInterval is how often the background sweep runs. Zero disables it.
	// Default: 60s
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`

	// IdleAge is how long a temporary allocation may sit untouched before
	// the sweep reclaims it
	// Default: 5m
	IdleAge time.Duration `mapstructure:"idle_age" yaml:"idle_age"`
}

// ManagerConfig converts the section into the memory manager configuration.
func (c MemoryConfig) ManagerConfig() memory.Config {
	return memory.Config{
		MaxSingle:  uint64(c.MaxSingle),
		MaxTotal:   uint64(c.MaxTotal),
		Tracking:   c.Tracking,
		GCInterval: c.GCInterval,
		IdleAge:    c.IdleAge,
	}
}

// CacheConfig bounds the in-memory packet cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached packets
	// Default: 4096
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`

	// MaxBytes is the total content-byte budget of the cache
	// Supports human-readable formats: "256Mi", "1GB"
	// Default: 256MiB
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes"`

	// TTL is how long an entry may be served before it expires
	// Default: 60s
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// StorageConfig configures the persistence layer.
type StorageConfig struct {
	// Dir is the root directory for region files and the block index (required)
	// Example: /var/lib/hinata or /tmp/hinata-data
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`

	// MaxRegions bounds how many region files may exist
	// Default: 64
	MaxRegions int `mapstructure:"max_regions" yaml:"max_regions"`

	// RegionCapacity is the byte budget of each region log
	// Supports human-readable formats: "64Mi", "256MB"
	// Default: 64MiB
	RegionCapacity bytesize.ByteSize `mapstructure:"region_capacity" yaml:"region_capacity"`

	// WriteBack defers fdatasync to the periodic sync timer instead of
	// syncing on every store
	// Default: false (write-through)
	WriteBack bool `mapstructure:"write_back" yaml:"write_back"`

	// SyncInterval is the cadence of the background sync task
	// Default: 30s
	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`

	// Validation is the level applied before a packet is stored
	// Valid values: minimal, standard, comprehensive, paranoid
	// Default: standard
	Validation string `mapstructure:"validation" validate:"omitempty,oneof=minimal standard comprehensive paranoid" yaml:"validation"`

	// Compression names the record compressor applied before records hit
	// the region log
	// Valid values: none, zstd
	// Default: none
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none zstd" yaml:"compression"`

	// Encryption names the at-rest record encryptor
	// Valid values: none, chacha20poly1305
	// Default: none
	Encryption string `mapstructure:"encryption" validate:"omitempty,oneof=none chacha20poly1305" yaml:"encryption"`

	// EncryptionKey is the hex-encoded key for the encryptor;
	// chacha20poly1305 takes 64 hex characters (32 bytes)
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key,omitempty"`

	// Cache bounds the in-memory packet cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

// ServiceConfig converts the section into the storage service configuration.
// Validation strings are checked during Validate, so parse failures here fall
// back to the standard level.
func (c StorageConfig) ServiceConfig() storage.Config {
	level, err := validate.ParseLevel(c.Validation)
	if err != nil {
		level = validate.LevelStandard
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		key = nil
	}
	return storage.Config{
		Dir:            c.Dir,
		MaxRegions:     c.MaxRegions,
		RegionCapacity: uint64(c.RegionCapacity),
		WriteBack:      c.WriteBack,
		Validation:     level,
		Compression:    c.Compression,
		Encryption:     c.Encryption,
		EncryptionKey:  key,
		Cache: storage.CacheConfig{
			MaxEntries: c.Cache.MaxEntries,
			MaxBytes:   uint64(c.Cache.MaxBytes),
			TTL:        c.Cache.TTL,
		},
	}
}

// WorkerConfig configures the priority task pool.
type WorkerConfig struct {
	// Workers is the number of worker goroutines
	// Default: min(NumCPU, 8)
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// QueueDepth is the per-lane pending task limit
	// Default: 1024
	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth"`

	// TaskTimeout is the per-task execution deadline
	// Default: 30s
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`

	// IdleTimeout is how long an idle worker waits before refreshing its state
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// HealthInterval is the cadence of the pool health monitor
	// Default: 10s
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// PoolConfig converts the section into the worker pool configuration.
func (c WorkerConfig) PoolConfig() worker.Config {
	return worker.Config{
		Workers:        c.Workers,
		QueueDepth:     c.QueueDepth,
		TaskTimeout:    c.TaskTimeout,
		IdleTimeout:    c.IdleTimeout,
		HealthInterval: c.HealthInterval,
	}
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (HINATA_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// No config file means pure defaults.
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  hinata init\n\n"+
				"Or specify a custom config file:\n"+
				"  hinata <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  hinata init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// yaml.Marshal directly so yaml tags are respected.
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the HINATA_ prefix with underscores.
	// Example: HINATA_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("HINATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/hinata/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Explicit config paths surface as os.PathError when missing.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hinata")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "hinata")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
