package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/bootstrap"
)

var errRedisNotConfigured = errors.New("redis not configured")

// infra is the set of connections one command holds.
type infra struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Services bootstrap.ServiceContainer
}

// Close releases every connection, joining close errors.
func (i *infra) Close() error {
	var closeErr error
	if err := i.Services.Close(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close services: %w", err))
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

type connectInfraOptions struct {
	Logger    *slog.Logger
	Config    *config.AppConfig
	WantRedis bool
}

// connectInfra opens the database, Redis when asked for, and wires the
// services on top of them.
func connectInfra(opts *connectInfraOptions) (*infra, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: opts.Config.Postgres, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	in := &infra{DB: db}

	if opts.WantRedis {
		in.Redis, err = maybeConnectRedis(opts.Logger, &opts.Config.Redis)
		if err != nil {
			return nil, errors.Join(err, in.Close())
		}
	}

	in.Services, err = bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      opts.Config,
		DB:          db,
		RedisClient: in.Redis,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, in.Close())
	}
	return in, nil
}

// maybeConnectRedis returns a connected client when configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func maybeConnectRedis(logger *slog.Logger, cfg *config.RedisConfig) (redis.UniversalClient, error) {
	if !hasRedisConfig(cfg) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: *cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

// withInfra runs fn with connections that are closed afterwards.
func withInfra(ctx context.Context, wantRedis bool, fn func(context.Context, *infra) error) error {
	in, err := connectInfra(&connectInfraOptions{Logger: cli.logger, Config: &cli.cfg, WantRedis: wantRedis})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil {
			cli.logger.Warn("close connections failed", "error", closeErr)
		}
	}()
	return fn(ctx, in)
}
