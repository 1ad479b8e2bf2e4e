// Package migrateconfig loads the reference CLI's own configuration
// (spec §9.3): database connection, default concurrency ceiling, default
// timeouts. It is deliberately outside the engine's core — the CLI
// translates a parsed Config into runner.Config and dbapplier.Option
// values rather than passing it to the engine directly.
package migrateconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	internalredis "github.com/outpostdb/migrator/internal/redis"
	"gopkg.in/yaml.v3"
)

// configLocations are searched, in order, when no explicit path is given
// via --config or the CONFIG environment variable.
func configLocations() []string {
	return []string{
		".env",
		".migrator.yaml",
		"config/migrator.yaml",
		"/config/migrator.yaml",
		"/config/migrator/.env",
	}
}

// RedisConfig mirrors internal/redis.Config with env/yaml tags.
type RedisConfig struct {
	Host       string `yaml:"host" env:"REDIS_HOST"`
	Port       int    `yaml:"port" env:"REDIS_PORT"`
	Username   string `yaml:"username" env:"REDIS_USERNAME"`
	Password   string `yaml:"password" env:"REDIS_PASSWORD"`
	Database   int    `yaml:"database" env:"REDIS_DATABASE"`
	TLSEnabled bool   `yaml:"tls_enabled" env:"REDIS_TLS_ENABLED"`
}

func (c RedisConfig) ToInternal() *internalredis.Config {
	return &internalredis.Config{
		Host:       c.Host,
		Port:       c.Port,
		Username:   c.Username,
		Password:   c.Password,
		Database:   c.Database,
		TLSEnabled: c.TLSEnabled,
	}
}

// Config is the reference CLI's configuration surface.
type Config struct {
	Redis RedisConfig `yaml:"redis"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" desc:"debug|info|warn|error|fatal"`

	KeyPrefix          string `yaml:"key_prefix" env:"MIGRATOR_KEY_PREFIX" desc:"Redis key namespace the applier writes under"`
	IndexConcurrency   int    `yaml:"index_concurrency" env:"MIGRATOR_INDEX_CONCURRENCY" desc:"bounded-concurrency ceiling for update_indexes fan-out"`
	MaxRetries         int    `yaml:"max_retries" env:"MIGRATOR_MAX_RETRIES" desc:"runner-level per-operation retry ceiling"`
	RetryDelayMs       int    `yaml:"retry_delay_ms" env:"MIGRATOR_RETRY_DELAY_MS"`
	OperationTimeoutMs int    `yaml:"operation_timeout_ms" env:"MIGRATOR_OPERATION_TIMEOUT_MS"`
	LockTTLSeconds     int    `yaml:"lock_ttl_seconds" env:"MIGRATOR_LOCK_TTL_SECONDS" desc:"single-instance advisory lock TTL (spec §5, §10.5)"`
}

func (c *Config) initDefaults() {
	c.Redis = RedisConfig{Host: "127.0.0.1", Port: 6379}
	c.LogLevel = "info"
	c.KeyPrefix = "migrator"
	c.IndexConcurrency = 3
	c.MaxRetries = 3
	c.RetryDelayMs = 50
	c.OperationTimeoutMs = 30_000
	c.LockTTLSeconds = 10
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMs) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Redis.Port <= 0 {
		return fmt.Errorf("redis port must be positive")
	}
	if c.IndexConcurrency <= 0 {
		return fmt.Errorf("index_concurrency must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	return nil
}

// parseConfigFile loads a YAML file over the defaults, or a .env file
// into the process environment, whichever the path resolves to. A
// missing file at an explicit path is an error; a missing file among
// the conventional search locations is skipped.
func parseConfigFile(c *Config, explicitPath string) error {
	path := explicitPath
	if path == "" {
		if envPath := os.Getenv("CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path == "" {
		for _, loc := range configLocations() {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
		if path == "" {
			return nil
		}
	}

	if strings.HasSuffix(path, ".env") {
		return godotenv.Load(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Load reads defaults, then an optional config file, then environment
// variables (highest priority), and validates the result.
func Load(explicitConfigPath string) (*Config, error) {
	var c Config
	c.initDefaults()

	if err := parseConfigFile(&c, explicitConfigPath); err != nil {
		return nil, err
	}
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}
