package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/smart-agent/config"
	redisstore "github.com/target/smart-agent/internal/adapters/redis"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/data"
)

// StoreHandle is an opened job record store plus the connections behind it.
type StoreHandle struct {
	Store   core.JobRecordStore
	Backend config.StoreBackend
	DB      *sql.DB               // set for the postgres backend
	Redis   redis.UniversalClient // set for the redis backend
}

// Close releases the store's connections.
func (h *StoreHandle) Close() error {
	if h == nil {
		return nil
	}
	var closeErr error
	if h.DB != nil {
		if err := h.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close database: %w", err))
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// Ping reports whether the backing connection is reachable.
// The memory backend is always ready.
func (h *StoreHandle) Ping(ctx context.Context) error {
	switch {
	case h == nil:
		return errors.New("job record store is not open")
	case h.DB != nil:
		return h.DB.PingContext(ctx)
	case h.Redis != nil:
		return h.Redis.Ping(ctx).Err()
	default:
		return nil
	}
}

// OpenJobRecordStore connects the configured backend and returns a ready store.
// Postgres migrations run when enabled in config.
func OpenJobRecordStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*StoreHandle, error) {
	if cfg == nil {
		return nil, errors.New("app config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Store.Backend {
	case config.StoreMemory:
		logger.WarnContext(ctx, "using in-memory job record store; records do not survive restarts")
		return &StoreHandle{Store: data.NewMemoryJobRecordStore(nil), Backend: config.StoreMemory}, nil

	case config.StorePostgres:
		return openPostgresStore(ctx, cfg, logger)

	default:
		return openRedisStore(ctx, cfg, logger)
	}
}

func openPostgresStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*StoreHandle, error) {
	db, err := ConnectDB(ctx, DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	handle := &StoreHandle{Backend: config.StorePostgres, DB: db}

	if cfg.Postgres.RunMigrationsOnStart {
		if err := RunMigrations(ctx, db, logger); err != nil {
			return nil, errors.Join(err, handle.Close())
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	handle.Store = data.NewJobRecordRepo(db, data.RepoConfig{Logger: logger})
	return handle, nil
}

func openRedisStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*StoreHandle, error) {
	client, err := ConnectRedis(ctx, DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	handle := &StoreHandle{Backend: config.StoreRedis, Redis: client}

	store, err := redisstore.NewJobRecordStore(redisstore.JobRecordStoreOptions{
		Client: client,
		Prefix: cfg.Store.KeyPrefix,
		Logger: logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create redis job record store: %w", err), handle.Close())
	}
	handle.Store = store
	return handle, nil
}
