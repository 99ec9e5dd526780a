package storage

import (
	"context"

	"github.com/stock-portfolio/internal/config"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/retry"
)

// ConnectPostgres dials Postgres, retrying with backoff while the database
// is still coming up
func ConnectPostgres(ctx context.Context, cfg *config.PostgresConfig, retryCfg *retry.RetryConfig) (*PostgresDB, error) {
	var db *PostgresDB
	err := retry.Do(ctx, orDefault(retryCfg), func(ctx context.Context, attempt int) error {
		var err error
		db, err = NewPostgresDB(ctx, cfg)
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("attempt", attempt).Warn("Postgres not reachable")
		}
		return err
	})
	return db, err
}

// ConnectRedis dials Redis with the same backoff as ConnectPostgres
func ConnectRedis(ctx context.Context, cfg *config.RedisConfig, retryCfg *retry.RetryConfig) (*RedisCache, error) {
	var cache *RedisCache
	err := retry.Do(ctx, orDefault(retryCfg), func(ctx context.Context, attempt int) error {
		var err error
		cache, err = NewRedisCache(ctx, cfg)
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("attempt", attempt).Warn("Redis not reachable")
		}
		return err
	})
	return cache, err
}

// ConnectClickHouse dials ClickHouse with the same backoff as ConnectPostgres
func ConnectClickHouse(ctx context.Context, cfg *config.ClickHouseConfig, retryCfg *retry.RetryConfig) (*ClickHouseDB, error) {
	var db *ClickHouseDB
	err := retry.Do(ctx, orDefault(retryCfg), func(ctx context.Context, attempt int) error {
		var err error
		db, err = NewClickHouseDB(ctx, cfg)
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("attempt", attempt).Warn("ClickHouse not reachable")
		}
		return err
	})
	return db, err
}

func orDefault(cfg *retry.RetryConfig) *retry.RetryConfig {
	if cfg == nil {
		return retry.DefaultRetryConfig()
	}
	return cfg
}
