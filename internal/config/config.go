// Package config holds the daemon's runtime configuration: the RPC listen
// address, pool-root placement, per-call deadlines, and the observability
// settings shared by logging, metrics and tracing.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// PoolConfig holds single-flight clone pool settings.
type PoolConfig struct {
	RootDir string `json:"root_dir"` // overrides the default ephemeral pool root; empty means process-temp-dir
}

// RPCConfig holds RPC server/client settings.
type RPCConfig struct {
	Addr            string        `json:"addr"`             // listen address, e.g. ":7777"
	DefaultDeadline time.Duration `json:"default_deadline"` // loaded but not read: rpc.Client always falls back to rpc.DefaultDeadline
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"` // metrics/health listener, e.g. ":9091"
	LogLevel string `json:"log_level"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`      // Default: false
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // gitpoold
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`           // Default: true
	Namespace        string    `json:"namespace"`         // gitpool
	HistogramBuckets []float64 `json:"histogram_buckets"` // clone duration buckets, milliseconds
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Pool          PoolConfig          `json:"pool"`
	RPC           RPCConfig           `json:"rpc"`
	Daemon        DaemonConfig        `json:"daemon"`
	Observability ObservabilityConfig `json:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			RootDir: "",
		},
		RPC: RPCConfig{
			Addr:            ":7777",
			DefaultDeadline: 5 * time.Minute,
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":9091",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "gitpoold",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "gitpool",
				HistogramBuckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, starting from defaults
// so an incomplete file only overrides the fields it sets.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies GITPOOL_* environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("GITPOOL_RPC_ADDR"); v != "" {
		cfg.RPC.Addr = v
	}
	if v := os.Getenv("GITPOOL_RPC_DEFAULT_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RPC.DefaultDeadline = d
		}
	}
	if v := os.Getenv("GITPOOL_POOL_ROOT_DIR"); v != "" {
		cfg.Pool.RootDir = v
	}
	if v := os.Getenv("GITPOOL_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("GITPOOL_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}

	if v := os.Getenv("GITPOOL_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("GITPOOL_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("GITPOOL_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("GITPOOL_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("GITPOOL_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}

	if v := os.Getenv("GITPOOL_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("GITPOOL_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("GITPOOL_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
