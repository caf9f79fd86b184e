// Package postgres wraps a pgx connection pool in the same option style as
// the ClickHouse client.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds pool settings applied on top of the DSN.
type ClientConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// WithPoolSize sets max and min pool connections.
func WithPoolSize(maxConns, minConns int32) ClientOption {
	return func(c *ClientConfig) {
		if maxConns > 0 {
			c.MaxConns = maxConns
		}
		if minConns >= 0 {
			c.MinConns = minConns
		}
	}
}

// WithConnectTimeout bounds pool creation and the initial ping.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if d > 0 {
			c.ConnectTimeout = d
		}
	}
}

// Client owns a pgx pool.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient parses dsn, applies the options and verifies connectivity.
func NewClient(ctx context.Context, dsn string, opts ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	poolCfg, err := ParseConfig(dsn, *cfg)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Client{pool: pool}, nil
}

// ParseConfig builds the pool configuration without connecting.
func ParseConfig(dsn string, cfg ClientConfig) (*pgxpool.Config, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	return poolCfg, nil
}

// Pool returns the underlying pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Health pings the database.
func (c *Client) Health(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// InitSchema creates the RunGuard tables if they do not exist.
func (c *Client) InitSchema(ctx context.Context) error {
	for _, stmt := range Schema() {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close shuts down the pool.
func (c *Client) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// Schema returns the idempotent DDL for the relational recorder.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS runguard_evaluations (
			session_id   TEXT NOT NULL,
			pattern      TEXT NOT NULL,
			signal_block BIGINT NOT NULL,
			eval_block   BIGINT NOT NULL,
			predicted    TEXT NOT NULL,
			actual       TEXT NOT NULL,
			is_win       BOOLEAN NOT NULL,
			magnitude    DOUBLE PRECISION NOT NULL,
			pnl          DOUBLE PRECISION NOT NULL,
			was_bet      BOOLEAN NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, eval_block, pattern)
		)`,
		`CREATE TABLE IF NOT EXISTS runguard_transitions (
			session_id  TEXT NOT NULL,
			pattern     TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status   TEXT NOT NULL,
			block       BIGINT NOT NULL,
			reason      TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS runguard_transitions_session_idx ON runguard_transitions (session_id, block)`,
		`CREATE TABLE IF NOT EXISTS runguard_hostility (
			session_id      TEXT NOT NULL,
			block           BIGINT NOT NULL,
			score           DOUBLE PRECISION NOT NULL,
			level           TEXT NOT NULL,
			pause_remaining INTEGER NOT NULL,
			directive       TEXT NOT NULL DEFAULT '',
			recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, block)
		)`,
	}
}
