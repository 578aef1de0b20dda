package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PoolConfig configures the shared Postgres pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// SessionKeys are reset on every connection before it returns to the pool.
	SessionKeys []string

	RetryAttempts int
	RetryInterval time.Duration
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPool creates a pgx pool whose connections never carry isolation keys
// back into the pool: AfterRelease clears them and drops the connection if
// clearing fails.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	config.MaxConnLifetime = cfg.MaxConnLifetime
	config.MaxConnIdleTime = cfg.MaxConnIdleTime

	keys := cfg.SessionKeys
	config.AfterRelease = func(conn *pgx.Conn) bool {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ResetSessionKeys(rctx, conn, keys); err != nil {
			log.Warn().Err(err).Msg("Failed to reset isolation keys, destroying connection")
			return false
		}
		return true
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := range attempts {
		pool, err := pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i+1).Msg("Database not ready")
		if i+1 < attempts {
			select {
			case <-ctx.Done():
				return nil, errors.Join(lastErr, ctx.Err())
			case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
			}
		}
	}
	return nil, fmt.Errorf("failed to create connection pool: %w", lastErr)
}

// ResetSessionKeys clears session-level settings on a connection.
func ResetSessionKeys(ctx context.Context, conn execer, keys []string) error {
	for _, key := range keys {
		if _, err := conn.Exec(ctx, "SELECT set_config($1, '', false)", key); err != nil {
			return fmt.Errorf("failed to reset %s: %w", key, err)
		}
	}
	return nil
}
