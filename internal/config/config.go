// Package config defines the top-level configuration for the paper trading
// venue and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAPERVENUE_* environment
// variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Feed     FeedConfig     `toml:"feed"`
	Engine   EngineConfig   `toml:"engine"`
	Jobs     JobsConfig     `toml:"jobs"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds the HTTP/WebSocket API parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"` // empty disables authentication
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"` // per-client cap, 0 disables
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold-storage
// archival. Archival is disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds tick ingestion and delay-gate parameters. DelaySeconds is
// the sole mechanism enforcing that no observer sees market data early.
type FeedConfig struct {
	Channel         string   `toml:"channel"`
	DelaySeconds    int      `toml:"delay_seconds"`
	BatchCap        int      `toml:"batch_cap"`
	ReleaseInterval duration `toml:"release_interval"`
}

// Delay returns the configured delay window.
func (f FeedConfig) Delay() time.Duration {
	return time.Duration(f.DelaySeconds) * time.Second
}

// EngineConfig holds matching engine parameters.
type EngineConfig struct {
	PlaceLimit   int      `toml:"place_limit"`
	PlaceWindow  duration `toml:"place_window"`
	FillRetries  int      `toml:"fill_retries"`
	RetryBackoff duration `toml:"retry_backoff"`
}

// JobsConfig holds scheduled-job parameters. SquareOffTime is a UTC "HH:MM"
// wall-clock time; empty disables the end-of-day job.
type JobsConfig struct {
	FlushInterval        duration `toml:"flush_interval"`
	SquareOffTime        string   `toml:"square_off_time"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// duration wraps time.Duration so TOML values like "10s" parse naturally.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns the built-in configuration, suitable for local runs
// against localhost services.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			RateLimitPerMin: 120,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "papervenue",
			User:          "papervenue",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Feed: FeedConfig{
			Channel:         "feed:ticks",
			DelaySeconds:    900,
			BatchCap:        500,
			ReleaseInterval: duration{time.Second},
		},
		Engine: EngineConfig{
			PlaceLimit:   10,
			PlaceWindow:  duration{time.Second},
			FillRetries:  3,
			RetryBackoff: duration{100 * time.Millisecond},
		},
		Jobs: JobsConfig{
			FlushInterval:        duration{10 * time.Second},
			SquareOffTime:        "15:20",
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 30,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values that would make the venue
// misbehave rather than fail fast.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		problems = append(problems, "postgres connection requires dsn or host/database/user")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required")
	}
	if c.Feed.DelaySeconds < 0 {
		problems = append(problems, "feed.delay_seconds must not be negative")
	}
	if c.Feed.BatchCap < 0 {
		problems = append(problems, "feed.batch_cap must not be negative")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		problems = append(problems, "s3.region is required when s3.bucket is set")
	}
	if c.Jobs.SquareOffTime != "" {
		if _, err := time.Parse("15:04", c.Jobs.SquareOffTime); err != nil {
			problems = append(problems, fmt.Sprintf("jobs.square_off_time %q is not HH:MM", c.Jobs.SquareOffTime))
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug/info/warn/error", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
