package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load reads configuration from a YAML file. Keys missing from the file keep
// their Default value.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it over the
// defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.UnmarshalStrict([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules and reports every violation at once.
func (c *AppConfig) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Node.URL == "" {
		fail("node.url is required")
	}
	if c.Node.RateLimit < 0 {
		fail("node.rate_limit must be >= 0")
	}

	switch c.Storage.Driver {
	case DriverPebble:
		if c.Storage.Path == "" {
			fail("storage.path is required for pebble")
		}
	case DriverPostgres:
		if c.Storage.Postgres.URL == "" {
			fail("storage.postgres.url is required for postgres")
		}
		switch c.Storage.Postgres.Driver {
		case "", "pgx", "postgres":
		default:
			fail("storage.postgres.driver must be pgx or postgres, got %q", c.Storage.Postgres.Driver)
		}
	default:
		fail("storage.driver must be pebble or postgres, got %q", c.Storage.Driver)
	}

	s := c.Sync
	if s.BulkSize <= 0 {
		fail("sync.bulk_size must be > 0")
	}
	if s.MaxWorkers < 1 {
		fail("sync.max_workers must be >= 1")
	}
	if s.MaxReorgDepth < 1 {
		fail("sync.max_reorg_depth must be >= 1")
	}
	if s.Confirmations < uint64(max(s.MaxReorgDepth, 0)) {
		fail("sync.confirmations (%d) must be >= sync.max_reorg_depth (%d)", s.Confirmations, s.MaxReorgDepth)
	}
	if s.RefreshInterval <= 0 {
		fail("sync.refresh_interval must be > 0")
	}
	if s.MaxBatchBytes < 0 || s.MemoryLimitMB < 0 {
		fail("sync.max_batch_bytes and sync.memory_limit_mb must be >= 0")
	}
	if s.Retry.InitialDelay <= 0 || s.Retry.MaxDelay < s.Retry.InitialDelay {
		fail("sync.retry needs 0 < initial_delay <= max_delay")
	}
	if s.Retry.MaxAttempts < 1 {
		fail("sync.retry.max_attempts must be >= 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		fail("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		fail("server.port out of range: %d", c.Server.Port)
	}
	if c.Redis.Enabled() && c.Redis.LeaseTTL < 3*time.Millisecond {
		fail("redis.lease_ttl too short: %s", c.Redis.LeaseTTL)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
