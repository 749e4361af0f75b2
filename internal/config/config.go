package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides, e.g. ORDERSVC_DATABASE__HOST.
const EnvPrefix = "ORDERSVC_"

// Config holds all configuration for the order service
type Config struct {
	App      AppConfig      `koanf:"app"`
	HTTP     HTTPConfig     `koanf:"http"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Orders   OrdersConfig   `koanf:"orders"`
	CORS     CORSConfig     `koanf:"cors"`
}

// AppConfig holds process-level settings
type AppConfig struct {
	Name     string `koanf:"name"`
	HTTPAddr string `koanf:"http_addr"`
	LogLevel string `koanf:"log_level"`
	LogFile  string `koanf:"log_file"`
}

// HTTPConfig holds HTTP server timeouts
type HTTPConfig struct {
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver         string        `koanf:"driver"`
	DSN            string        `koanf:"dsn"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	User           string        `koanf:"user"`
	Password       string        `koanf:"password"`
	Database       string        `koanf:"database"`
	MaxConns       int           `koanf:"max_conns"`
	MinConns       int           `koanf:"min_conns"`
	MaxConnLife    time.Duration `koanf:"max_conn_lifetime"`
	MaxConnIdle    time.Duration `koanf:"max_conn_idle_time"`
	ConnectRetries int           `koanf:"connect_retries"`
}

// RedisConfig holds the idempotency store configuration
type RedisConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Addr           string        `koanf:"addr"`
	Password       string        `koanf:"password"`
	DB             int           `koanf:"db"`
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
}

// OrdersConfig holds workflow switches
type OrdersConfig struct {
	RequireSession  bool   `koanf:"require_session"`
	CancelPolicy    string `koanf:"cancel_policy"`
	AllowCancelByID bool   `koanf:"allow_cancel_by_id"`
}

// CORSConfig holds allowed origins for browser clients
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

func defaults() map[string]any {
	return map[string]any{
		"app.name":                    "order-service",
		"app.http_addr":               ":5000",
		"app.log_level":               "info",
		"http.read_timeout":           "10s",
		"http.write_timeout":          "35s",
		"http.idle_timeout":           "60s",
		"http.request_timeout":        "30s",
		"http.shutdown_timeout":       "10s",
		"database.driver":             DriverPostgres,
		"database.host":               "localhost",
		"database.port":               5432,
		"database.max_conns":          25,
		"database.min_conns":          5,
		"database.max_conn_lifetime":  "1h",
		"database.max_conn_idle_time": "30m",
		"database.connect_retries":    5,
		"redis.enabled":               false,
		"redis.addr":                  "localhost:6379",
		"redis.idempotency_ttl":       "24h",
		"redis.lock_ttl":              "30s",
		"orders.require_session":      true,
		"orders.cancel_policy":        "transition",
		"orders.allow_cancel_by_id":   true,
		"cors.allowed_origins":        []string{"*"},
	}
}

// Load reads configuration from defaults, an optional YAML file and the environment
func Load(filename string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if filename != "" {
		if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr is required")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.host or database.dsn is required")
		}
	case DriverMySQL, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver: %q", c.Database.Driver)
	}

	switch c.Orders.CancelPolicy {
	case "transition", "delete":
	default:
		return fmt.Errorf("unknown orders.cancel_policy: %q", c.Orders.CancelPolicy)
	}

	// The server must outlive the request deadline so the timeout response
	// can still be written.
	if c.HTTP.WriteTimeout > 0 && c.HTTP.WriteTimeout < c.HTTP.RequestTimeout {
		return fmt.Errorf("http.write_timeout (%s) must not be shorter than http.request_timeout (%s)",
			c.HTTP.WriteTimeout, c.HTTP.RequestTimeout)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// DatabaseURL returns the connection string for the configured driver
func (c *Config) DatabaseURL() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}
