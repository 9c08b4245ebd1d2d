// Package store provides the data access layer over a pgxpool. It is the only
// mutation surface for job, feed, and item rows: the scheduler, worker, and
// API layers all go through the methods here rather than touching SQL.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central data access object. A single Store is constructed in
// cmd and handed to the scheduler, worker, and API constructors explicitly;
// there is no package-level instance.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need raw access
// (health checks, test fixtures).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// PoolConfig holds the connection settings consumed by NewPool.
type PoolConfig struct {
	DatabaseURL        string
	MaxConns           int32
	MaxConnIdleTime    time.Duration
	StatementTimeoutMS int
	// QueryExecMode "simple_protocol" selects the PgBouncer-compatible wire
	// protocol; anything else keeps pgx's extended protocol default.
	QueryExecMode string
}

// NewPool creates and validates a pgxpool with statement timeout, exec mode,
// and pool sizing applied. Retries up to 10 times with linear backoff to
// handle container-orchestration startup races where Postgres is not
// immediately ready.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.QueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	if cfg.StatementTimeoutMS > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.StatementTimeoutMS)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	var (
		pool    *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		pool, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = pool.Ping(ctx); connErr == nil {
				break
			}
			pool.Close()
		}
		slog.Warn("database not ready, retrying",
			"attempt", attempt,
			"error", connErr,
		)
		// time.NewTimer (not time.After) so the timer is released if ctx is
		// cancelled before it fires.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}
	return pool, nil
}
