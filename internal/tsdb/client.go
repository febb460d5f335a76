package tsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/logging"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultPoolConfig returns the standard pool bounds.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// Client is the time-series store client. It owns the historical audit
// tables: order_book_snapshots, metrics, basis_metrics, alerts, data_gaps.
type Client struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewClient opens a pooled connection and verifies it.
func NewClient(ctx context.Context, url string, pool PoolConfig) (*Client, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open tsdb: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("tsdb ping: %w", err)
	}

	log.Info().Str("url", logging.RedactURL(url)).Msg("tsdb connected")

	return &Client{db: db, timeout: pool.QueryTimeout}, nil
}

// NewClientFromDB wraps an existing connection. Used by tests with sqlmock.
func NewClientFromDB(db *sqlx.DB, queryTimeout time.Duration) *Client {
	return &Client{db: db, timeout: queryTimeout}
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Retry tuning for transient write failures.
const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// withRetry runs op with bounded exponential backoff. The TSDB is the audit
// store; callers treat persistent failure as loggable, not fatal, except
// where noted.
func withRetry(ctx context.Context, name string, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			log.Warn().Str("op", name).Int("attempt", attempt+1).Err(err).Msg("retrying tsdb write")
		}
		if err = op(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, retryAttempts, err)
}
