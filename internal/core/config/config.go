// Package config loads the mirror's YAML configuration.
package config

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	redisclient "github.com/vietddude/ethmirror/internal/infra/redis"
	"github.com/vietddude/ethmirror/internal/infra/rpc"
	"github.com/vietddude/ethmirror/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Node    rpc.Config         `yaml:"node"`
	Storage StorageConfig      `yaml:"storage"`
	Sync    SyncConfig         `yaml:"sync"`
	Server  ServerConfig       `yaml:"server"`
	Logging LoggingConfig      `yaml:"logging"`
	Redis   redisclient.Config `yaml:"redis"`
}

// Storage drivers.
const (
	DriverPebble   = "pebble"
	DriverPostgres = "postgres"
)

// StorageConfig selects and configures the backend.
type StorageConfig struct {
	Driver   string          `yaml:"driver"` // pebble, postgres
	Path     string          `yaml:"path"`
	CacheMB  int             `yaml:"cache_mb"`
	Postgres postgres.Config `yaml:"postgres"`
}

// Location names the store for logs and the writer lease. Postgres
// credentials are redacted.
func (s StorageConfig) Location() string {
	if s.Driver != DriverPostgres {
		return s.Path
	}
	u, err := url.Parse(s.Postgres.URL)
	if err != nil {
		return "postgres"
	}
	return u.Redacted()
}

// SyncConfig tunes the sync loop.
type SyncConfig struct {
	StartHeight     uint64        `yaml:"start_height"`
	Confirmations   uint64        `yaml:"confirmations"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	BulkSize        int           `yaml:"bulk_size"`
	MaxWorkers      int           `yaml:"max_workers"`
	MaxReorgDepth   int           `yaml:"max_reorg_depth"`
	MaxBatchBytes   int           `yaml:"max_batch_bytes"`
	MemoryLimitMB   int           `yaml:"memory_limit_mb"` // 0 = unchecked
	RecoverAfter    int           `yaml:"recover_after"`
	HaltAfter       int           `yaml:"halt_after"`
	TipCacheTTL     time.Duration `yaml:"tip_cache_ttl"`

	InternalTransactions bool `yaml:"internal_transactions"`
	Tokens               bool `yaml:"tokens"`
	// Balances refreshes eth_getBalance for every address a chunk touches.
	Balances bool `yaml:"balances"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig bounds the backoff for transient failures.
type RetryConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"` // 0 disables the health server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel maps Level onto slog, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used for keys the file leaves out.
func Default() AppConfig {
	return AppConfig{
		Node: rpc.Config{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:  DriverPebble,
			Path:    "./data/ethmirror",
			CacheMB: 64,
			Postgres: postgres.Config{
				Driver:       "pgx",
				MaxOpenConns: 10,
			},
		},
		Sync: SyncConfig{
			Confirmations:   12,
			RefreshInterval: 20 * time.Second,
			BulkSize:        1000,
			MaxWorkers:      8,
			MaxReorgDepth:   12,
			MaxBatchBytes:   256 << 20,
			RecoverAfter:    5,
			HaltAfter:       3,
			TipCacheTTL:     3 * time.Second,
			Tokens:          true,
			Retry: RetryConfig{
				InitialDelay: time.Second,
				MaxDelay:     60 * time.Second,
				MaxAttempts:  8,
			},
		},
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info"},
		Redis:   redisclient.Config{LeaseTTL: 30 * time.Second},
	}
}
