// Command vibereader runs the feed reader's background job subsystem.
//
// Subcommands:
//
//	serve      — HTTP API + embedded worker daemon + periodic scheduler
//	worker     — process queued jobs (one-shot for cron, or --daemon)
//	scheduler  — enqueue fetch_feed jobs for stale feeds and exit
//	feeds      — add and list feed subscriptions
//	migrate    — run pending database migrations and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Embeds the IANA timezone database so time.LoadLocation works inside
	// distroless containers that have no /usr/share/zoneinfo.
	_ "time/tzdata"

	// Sets GOMEMLIMIT from the cgroup memory limit so the GC triggers before
	// the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jimmitchell/vibereader/internal/api"
	"github.com/jimmitchell/vibereader/internal/config"
	"github.com/jimmitchell/vibereader/internal/feed"
	"github.com/jimmitchell/vibereader/internal/jobs"
	"github.com/jimmitchell/vibereader/internal/scheduler"
	"github.com/jimmitchell/vibereader/internal/store"
	"github.com/jimmitchell/vibereader/internal/worker"
	"github.com/jimmitchell/vibereader/migrations"
)

// errJobsDisabled is returned by job entry points when JOBS_ENABLED=false so
// cron invocations exit non-zero without side effects.
var errJobsDisabled = errors.New("background jobs are disabled (JOBS_ENABLED=false)")

func main() {
	root := &cobra.Command{
		Use:   "vibereader",
		Short: "vibereader — feed reader background job subsystem",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		schedulerCmd(),
		feedsCmd(),
		migrateCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with an embedded worker daemon and scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	pool, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := store.New(pool)

	if cfg.JobsEnabled {
		// Embedded worker daemon. Fire-and-forget: the loop drains on ctx
		// cancellation, which happens before or alongside HTTP shutdown.
		w := newWorker(st, cfg)
		go w.Run(ctx, cfg.JobsWorkerSleep)

		// In-process replacement for the external cron entries: a scheduling
		// pass every refresh interval and a nightly sweep of terminal jobs.
		sched := scheduler.New(st, cfg.JobsRefreshInterval, cfg.JobsMaxAttempts)
		cr := cron.New()
		_, err = cr.AddFunc(fmt.Sprintf("@every %s", cfg.JobsRefreshInterval), func() {
			if _, err := sched.Run(ctx); err != nil {
				slog.Error("scheduling pass", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule feed refresh: %w", err)
		}
		_, err = cr.AddFunc("@daily", func() {
			n, err := st.CleanupJobs(ctx, cfg.JobsCleanupDays)
			if err != nil {
				slog.Error("job retention sweep", "error", err)
				return
			}
			slog.Info("job retention sweep finished", "deleted", n, "days_old", cfg.JobsCleanupDays)
		})
		if err != nil {
			return fmt.Errorf("schedule job cleanup: %w", err)
		}
		cr.Start()
		defer cr.Stop()
	} else {
		slog.Warn("background jobs disabled; serving API only")
	}

	handler := api.NewServer(st, pool, cfg).Handler()

	// Explicit timeouts to prevent Slowloris-style connection exhaustion.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop() // release signal notification
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	var (
		daemon    bool
		maxJobs   int
		sleepSecs int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued jobs (one-shot by default, --daemon to loop)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))
			if !cfg.JobsEnabled {
				return errJobsDisabled
			}

			pool, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			w := newWorker(store.New(pool), cfg)

			if daemon {
				sleep := cfg.JobsWorkerSleep
				if sleepSecs > 0 {
					sleep = time.Duration(sleepSecs) * time.Second
				}
				w.Run(ctx, sleep) // blocks until signal
				return nil
			}

			n, err := w.Drain(ctx, maxJobs)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "run forever, polling the queue")
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "stop after N jobs (0 = until queue empty)")
	cmd.Flags().IntVar(&sleepSecs, "sleep", 0, "seconds between polls when the queue is empty (daemon mode)")
	return cmd
}

// newWorker wires the worker with both job handlers. The feed parser is
// provided by the format-detection layer of the surrounding application;
// without one, fetch_feed records freshness only.
func newWorker(st *store.Store, cfg *config.Config) *worker.Worker {
	refresher := feed.NewHTTPRefresher(
		st,
		feed.BuildSafeClient(cfg.FeedFetchTimeout),
		nil,
		cfg.FeedFetchRate,
		cfg.FeedFetchTimeout,
	)

	w := worker.New(st, cfg.JobsStaleClaimAfter)
	w.Register(jobs.TypeFetchFeed, worker.FetchFeedHandler(refresher))
	w.Register(jobs.TypeCleanupItems, worker.CleanupItemsHandler(st, cfg.RetentionDays))
	return w
}

// ── scheduler ─────────────────────────────────────────────────────────────────

func schedulerCmd() *cobra.Command {
	var intervalMinutes int
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue fetch_feed jobs for stale feeds and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))
			if !cfg.JobsEnabled {
				return errJobsDisabled
			}

			interval := cfg.JobsRefreshInterval
			if intervalMinutes > 0 {
				interval = time.Duration(intervalMinutes) * time.Minute
			}

			pool, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()

			sched := scheduler.New(store.New(pool), interval, cfg.JobsMaxAttempts)
			res, err := sched.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("queued %d, already queued %d, total candidates %d\n",
				res.Queued, res.Skipped, res.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&intervalMinutes, "interval", 0,
		"refresh feeds not fetched within this many minutes (default from JOBS_REFRESH_INTERVAL)")
	return cmd
}

// ── feeds ─────────────────────────────────────────────────────────────────────

func feedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage feed subscriptions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <url>",
		Short: "Subscribe to a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))

			pool, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()

			f, err := store.New(pool).CreateFeed(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			fmt.Printf("added feed %d: %s\n", f.ID, f.FeedURL)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List feed subscriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))

			pool, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()

			feeds, err := store.New(pool).ListFeeds(cmd.Context())
			if err != nil {
				return err
			}
			for _, f := range feeds {
				fetched := "never"
				if f.LastFetchedAt != nil {
					fetched = f.LastFetchedAt.Format(time.RFC3339)
				}
				fmt.Printf("%d\t%s\tlast fetched: %s\n", f.ID, f.FeedURL, fetched)
			}
			return nil
		},
	})

	return cmd
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the same
	// driver is used project-wide; no pooling needed for a one-shot run.
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return store.NewPool(ctx, store.PoolConfig{
		DatabaseURL:        cfg.DatabaseURL,
		MaxConns:           cfg.DBMaxConns,
		MaxConnIdleTime:    cfg.DBMaxConnIdleTime,
		StatementTimeoutMS: cfg.DBStatementTimeoutMS,
		QueryExecMode:      cfg.DBQueryExecMode,
	})
}

// newLogger creates a slog.Logger based on the configured log level and format.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
