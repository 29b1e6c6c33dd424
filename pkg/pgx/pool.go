package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pool represents a connection configuration.
type Pool struct {
	Config     *pgxpool.Config // Takes precedence over ConnString
	ConnString string          // Used if Config is nil
	// MaxRetries bounds the attempts to reach the server at startup. Zero means
	// a single attempt.
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *zap.Logger
}

var errNoConnConfig = errors.New("either Config or ConnString must be provided")

// Connect creates a pool and pings the server, retrying with exponential
// backoff while the server is unreachable.
func Connect(ctx context.Context, cfg Pool) (*pgxpool.Pool, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)

	switch {
	case cfg.Config != nil:
		pool, err = pgxpool.NewWithConfig(ctx, cfg.Config)
	case cfg.ConnString != "":
		pool, err = pgxpool.New(ctx, cfg.ConnString)
	default:
		return nil, errNoConnConfig
	}
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		b.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		b.MaxInterval = cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0

	attempt := 0
	ping := func() error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("postgres not reachable", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, cfg.MaxRetries), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping connection: %w", err)
	}
	return pool, nil
}
