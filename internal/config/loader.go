package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPERVENUE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPERVENUE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPERVENUE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPERVENUE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PAPERVENUE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERVENUE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "PAPERVENUE_SERVER_RATE_LIMIT_PER_MIN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAPERVENUE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAPERVENUE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERVENUE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERVENUE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERVENUE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERVENUE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERVENUE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERVENUE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERVENUE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERVENUE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPERVENUE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERVENUE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERVENUE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERVENUE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERVENUE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERVENUE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAPERVENUE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERVENUE_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERVENUE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERVENUE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERVENUE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERVENUE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERVENUE_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.Channel, "PAPERVENUE_FEED_CHANNEL")
	setInt(&cfg.Feed.DelaySeconds, "PAPERVENUE_FEED_DELAY_SECONDS")
	setInt(&cfg.Feed.BatchCap, "PAPERVENUE_FEED_BATCH_CAP")
	setDuration(&cfg.Feed.ReleaseInterval, "PAPERVENUE_FEED_RELEASE_INTERVAL")

	// ── Engine ──
	setInt(&cfg.Engine.PlaceLimit, "PAPERVENUE_ENGINE_PLACE_LIMIT")
	setDuration(&cfg.Engine.PlaceWindow, "PAPERVENUE_ENGINE_PLACE_WINDOW")
	setInt(&cfg.Engine.FillRetries, "PAPERVENUE_ENGINE_FILL_RETRIES")
	setDuration(&cfg.Engine.RetryBackoff, "PAPERVENUE_ENGINE_RETRY_BACKOFF")

	// ── Jobs ──
	setDuration(&cfg.Jobs.FlushInterval, "PAPERVENUE_JOBS_FLUSH_INTERVAL")
	setStr(&cfg.Jobs.SquareOffTime, "PAPERVENUE_JOBS_SQUARE_OFF_TIME")
	setDuration(&cfg.Jobs.ArchiveInterval, "PAPERVENUE_JOBS_ARCHIVE_INTERVAL")
	setInt(&cfg.Jobs.ArchiveRetentionDays, "PAPERVENUE_JOBS_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PAPERVENUE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
