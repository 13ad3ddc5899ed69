package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all kernel daemon configuration.
type Config struct {
	Server    ServerConfig
	Memory    MemoryConfig
	Sched     SchedConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the introspection HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"9090"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// MemoryConfig bounds the physical frame registry.
type MemoryConfig struct {
	// TotalBytes is the physical memory budget. Defaults to 4 GiB.
	TotalBytes uint64 `envconfig:"MEMORY_TOTAL_BYTES" default:"4294967296"`
	// ProcessQuotaBytes is the soft per-process cap; 0 disables it.
	ProcessQuotaBytes uint64 `envconfig:"MEMORY_PROCESS_QUOTA_BYTES" default:"1073741824"`
}

// SchedConfig bounds the scheduler.
type SchedConfig struct {
	// QuantumCap is the most ticks one process may hold through allocation.
	QuantumCap uint64 `envconfig:"SCHED_QUANTUM_CAP" default:"1000"`
	// DefaultQuantum is granted to every process at registration.
	DefaultQuantum uint64 `envconfig:"SCHED_DEFAULT_QUANTUM" default:"100"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("EXOCORE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "9090",
			Host: "0.0.0.0",
		},
		Memory: MemoryConfig{
			TotalBytes:        4 << 30,
			ProcessQuotaBytes: 1 << 30,
		},
		Sched: SchedConfig{
			QuantumCap:     1000,
			DefaultQuantum: 100,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
