package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/consultaflow/dispatcher/config"
	"github.com/consultaflow/dispatcher/internal/data"
)

const (
	applicationName = "consultd"
	connectTimeout  = 5 * time.Second
)

// DatabaseConfig contains configuration for database connections.
type DatabaseConfig struct {
	DBConfig    config.DBConfig
	RedisConfig config.RedisConfig
	Logger      *slog.Logger
}

// ConnectDB opens the job store pool and verifies it with a ping.
func ConnectDB(cfg DatabaseConfig) (*sql.DB, error) {
	pc := cfg.DBConfig
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pc.User, pc.Password),
		Host:     net.JoinHostPort(pc.Host, strconv.Itoa(pc.Port)),
		Path:     "/" + pc.Name,
		RawQuery: url.Values{"sslmode": {pc.SSLMode}}.Encode(),
	}
	connCfg, err := pgx.ParseConfig(u.String())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	connCfg.RuntimeParams["application_name"] = applicationName

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(pc.MaxOpenConns)
	db.SetMaxIdleConns(pc.MaxIdleConns)
	db.SetConnMaxLifetime(pc.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database connected",
			"host", pc.Host,
			"port", pc.Port,
			"database", pc.Name,
			"max_open_conns", pc.MaxOpenConns,
		)
	}
	return db, nil
}

// redisMode is the client topology chosen from RedisConfig.
type redisMode string

const (
	redisModeDirect   redisMode = "direct"
	redisModeSentinel redisMode = "sentinel"
	redisModeCluster  redisMode = "cluster"
)

// ConnectRedis connects the lock store in direct, sentinel or cluster mode.
//
//nolint:ireturn // the topology is picked at runtime.
func ConnectRedis(cfg DatabaseConfig) (redis.UniversalClient, error) {
	mode, opts, err := redisOptions(cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch mode {
	case redisModeCluster:
		client = redis.NewClusterClient(opts.Cluster())
	case redisModeSentinel:
		client = redis.NewFailoverClient(opts.Failover())
	default:
		client = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis (%s): %w", mode, pingErr)
	}

	if cfg.Logger != nil {
		// Addresses only; credentials never reach the log.
		addrs := opts.Addrs
		if mode == redisModeSentinel {
			addrs = []string{opts.MasterName}
		}
		cfg.Logger.Info("redis connected", "mode", mode, "addrs", strings.Join(addrs, ","))
	}
	return client, nil
}

// redisOptions resolves RedisConfig into client options. A redis:// or
// rediss:// URI contributes its address, credentials, database and TLS.
func redisOptions(cfg config.RedisConfig) (redisMode, *redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{Password: cfg.Password, DB: cfg.DB}

	switch {
	case cfg.UseCluster:
		opts.Addrs = compactAddrs(cfg.ClusterNodes)
		if len(opts.Addrs) == 0 {
			if err := applyRedisURI(opts, cfg.URI); err != nil {
				return "", nil, fmt.Errorf("parse redis cluster url: %w", err)
			}
		}
		if len(opts.Addrs) == 0 {
			return "", nil, errors.New("redis cluster configuration requires at least one address")
		}
		return redisModeCluster, opts, nil

	case cfg.UseSentinel:
		opts.Addrs = compactAddrs(cfg.SentinelNodes)
		if len(opts.Addrs) == 0 {
			return "", nil, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		opts.MasterName = cfg.SentinelMasterName
		opts.SentinelPassword = cfg.SentinelPassword
		return redisModeSentinel, opts, nil
	}

	if strings.TrimSpace(cfg.URI) == "" {
		return "", nil, errors.New("redis direct configuration requires a URI")
	}
	if err := applyRedisURI(opts, cfg.URI); err != nil {
		return "", nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redisModeDirect, opts, nil
}

func applyRedisURI(opts *redis.UniversalOptions, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		opts.Addrs = []string{uri}
		return nil
	}
	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return err
	}
	opts.Addrs = []string{parsed.Addr}
	opts.Username = parsed.Username
	if parsed.Password != "" {
		opts.Password = parsed.Password
	}
	opts.DB = parsed.DB
	opts.TLSConfig = parsed.TLSConfig
	return nil
}

func compactAddrs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// RunMigrations applies pending schema migrations for jobs and accounts.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := data.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}

// PingDB is a readiness check for the job store.
func PingDB(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
