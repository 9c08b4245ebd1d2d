// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`
	// APIToken authenticates the /api/jobs endpoints. Empty disables them.
	APIToken string `env:"API_TOKEN"`

	// ── Background jobs ──────────────────────────────────────────────────────────
	// JobsEnabled gates both the scheduler and the worker: when false, either
	// entry point exits without side effects.
	JobsEnabled bool `env:"JOBS_ENABLED" envDefault:"true"`
	// JobsWorkerSleep is how long the daemon worker sleeps between polls when
	// the queue is empty.
	JobsWorkerSleep time.Duration `env:"JOBS_WORKER_SLEEP" envDefault:"10s"`
	// JobsMaxAttempts is the retry ceiling recorded on each job at enqueue time.
	JobsMaxAttempts int `env:"JOBS_MAX_ATTEMPTS" envDefault:"3"`
	// JobsCleanupDays is the retention age for terminal (completed/failed) jobs.
	JobsCleanupDays int `env:"JOBS_CLEANUP_DAYS" envDefault:"30"`
	// JobsRefreshInterval is how stale a feed's last successful fetch may be
	// before the scheduler queues a refresh.
	JobsRefreshInterval time.Duration `env:"JOBS_REFRESH_INTERVAL" envDefault:"15m"`
	// JobsStaleClaimAfter is the lease: a processing job claimed longer ago
	// than this is considered abandoned by a crashed worker and reclaimed.
	JobsStaleClaimAfter time.Duration `env:"JOBS_STALE_CLAIM_AFTER" envDefault:"15m"`

	// ── Feed fetching ────────────────────────────────────────────────────────────
	FeedFetchTimeout time.Duration `env:"FEED_FETCH_TIMEOUT" envDefault:"30s"`
	// FeedFetchRate caps outbound fetches per second across all feeds.
	FeedFetchRate float64 `env:"FEED_FETCH_RATE" envDefault:"5"`

	// ── Item retention ───────────────────────────────────────────────────────────
	// RetentionDays is the default age for cleanup_items jobs that carry no
	// retention_days override.
	RetentionDays int `env:"RETENTION_DAYS" envDefault:"90"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
