// Package database provides the PostgreSQL connection pool and migration
// utilities shared by the repositories.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
)

// Client wraps the pgx connection pool used by the repositories.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient connects to PostgreSQL, applies pending migrations and returns
// the pooled client.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinPoolSize)
	poolCfg.MaxConns = int32(cfg.MaxPoolSize)
	if timeout := cfg.ConnectTimeout(); timeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = timeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(cfg.DSN(), cfg.Name); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{pool: pool}, nil
}

// NewClientFromPool wraps an existing pool (useful for testing).
func NewClientFromPool(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Pool returns the underlying connection pool for repositories and health checks.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Health pings the database and reports connection pool statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	return Health(ctx, c.pool)
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}
