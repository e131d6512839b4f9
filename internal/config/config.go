// Package config loads registry configuration from registry.yaml and
// REGISTRY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/pkgindex/registry/internal/queue"
	"github.com/pkgindex/registry/internal/stats"
	"github.com/pkgindex/registry/internal/store"
	"github.com/pkgindex/registry/internal/telemetry"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "REGISTRY"

// Config represents the registry configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Blueprints BlueprintsConfig `mapstructure:"blueprints"`
	Queue      queue.Config     `mapstructure:"queue"`
	Stats      stats.Config     `mapstructure:"stats"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    telemetry.Config `mapstructure:"tracing"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	APIPrefix        string        `mapstructure:"api_prefix"`
	ShowErrorDetails bool          `mapstructure:"show_error_details"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// BlueprintsConfig bounds embedded relations in retrieval documents
type BlueprintsConfig struct {
	PopulateLimit int `mapstructure:"populate_limit"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", store.DriverPgx)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1337)
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.show_error_details", false)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("blueprints.populate_limit", 30)

	q := queue.DefaultConfig()
	v.SetDefault("queue.redis_addr", q.Addr)
	v.SetDefault("queue.redis_password", q.Password)
	v.SetDefault("queue.redis_db", q.DB)
	v.SetDefault("queue.key", q.Key)
	v.SetDefault("queue.workers", q.Workers)
	v.SetDefault("queue.max_attempts", q.MaxAttempts)
	v.SetDefault("queue.poll_timeout", q.PollTimeout)

	s := stats.DefaultConfig()
	v.SetDefault("stats.base_url", s.BaseURL)
	v.SetDefault("stats.cache_ttl", s.CacheTTL)
	v.SetDefault("stats.timeout", s.Timeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	t := telemetry.DefaultConfig()
	v.SetDefault("tracing.enabled", t.Enabled)
	v.SetDefault("tracing.exporter", t.Exporter)
	v.SetDefault("tracing.otlp_endpoint", t.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", t.SampleRate)
	v.SetDefault("tracing.service_name", t.ServiceName)
}

// Load reads configuration. An explicit path must exist; otherwise
// registry.yaml is searched in the working directory and /etc/registry
// and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("registry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/registry")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case store.DriverPgx, store.DriverPostgres, store.DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be one of pgx, postgres, sqlite3, got: %s", c.Database.Driver)
	}

	if p := c.Server.APIPrefix; p != "" {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", p)
		}
		if strings.HasSuffix(p, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", p)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got: %d", c.Server.Port)
	}

	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative, got: %s", c.Server.RequestTimeout)
	}

	if c.Blueprints.PopulateLimit <= 0 {
		return fmt.Errorf("blueprints.populate_limit must be positive, got: %d", c.Blueprints.PopulateLimit)
	}

	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got: %d", c.Queue.Workers)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive, got: %d", c.Queue.MaxAttempts)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got: %s", c.Log.Format)
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be none, stdout or otlp, got: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got: %v", c.Tracing.SampleRate)
	}
	return nil
}

// Store returns the store connection settings
func (c *Config) Store() store.Config {
	cfg := store.DefaultConfig(c.Database.Driver, c.Database.URL)
	cfg.MaxOpenConns = c.Database.MaxOpenConns
	cfg.MaxIdleConns = c.Database.MaxIdleConns
	cfg.ConnMaxLifetime = c.Database.ConnMaxLifetime
	return cfg
}

// Address returns the server listen address
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
