package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

// Supported storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Options selects and configures a storage backend.
type Options struct {
	Driver      string
	Postgres    PostgresConfig
	Redis       RedisConfig
	AutoMigrate bool
}

// Open builds the store named by opts.Driver. Postgres schemas are migrated
// when AutoMigrate is set.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (oauth.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		logger.Warn("using in-memory storage; records are lost on restart")
		return NewMemoryStore(), nil

	case DriverPostgres:
		store, err := NewPostgresStore(ctx, opts.Postgres)
		if err != nil {
			return nil, err
		}
		if opts.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("connected to postgres storage")
		return store, nil

	case DriverRedis:
		store, err := NewRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis storage", zap.String("addr", opts.Redis.Addr))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
