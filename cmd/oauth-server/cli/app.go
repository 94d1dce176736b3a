package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/providentiaww/mcp-oauth-gateway/internal/config"
	"github.com/providentiaww/mcp-oauth-gateway/internal/events"
	"github.com/providentiaww/mcp-oauth-gateway/internal/logging"
	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
	"github.com/providentiaww/mcp-oauth-gateway/internal/storage"
	"github.com/providentiaww/mcp-oauth-gateway/pkg/mcp"
)

// environment is the resolved configuration shared by every command.
type environment struct {
	file   config.File
	oauth  oauth.Config
	logger *zap.Logger
}

// loadEnvironment loads secrets and .env files, the YAML file and the OAuth
// settings, then builds the logger.
func loadEnvironment(ctx context.Context) (*environment, error) {
	// secrets land in the environment before anything reads it, so the
	// config file's log settings are not known yet
	bootstrap, err := newBootstrapLogger(flagLogLevel)
	if err != nil {
		return nil, err
	}
	config.LoadEnv(ctx, flagEnvFile, bootstrap.Named("env"))
	_ = bootstrap.Sync()

	file, err := config.Load(flagConfig, true)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		file.Server.LogLevel = flagLogLevel
	}

	logger, err := logging.New(file.Server.LogLevel, file.Server.Development)
	if err != nil {
		return nil, err
	}

	oauthCfg, err := oauth.LoadConfigFromEnv()
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &environment{file: file, oauth: oauthCfg, logger: logger}, nil
}

var newBootstrapLogger = func(level string) (*zap.Logger, error) {
	return logging.New(level, false)
}

func (e *environment) storageOptions() storage.Options {
	s := e.file.Storage
	return storage.Options{
		Driver:      s.Driver,
		AutoMigrate: s.AutoMigrate,
		Postgres: storage.PostgresConfig{
			DSN:             s.Postgres.DSN,
			MaxOpenConns:    s.Postgres.MaxOpenConns,
			MaxIdleConns:    s.Postgres.MaxIdleConns,
			ConnMaxLifetime: s.Postgres.ConnMaxLifetime,
		},
		Redis: storage.RedisConfig{
			Addr:      s.Redis.Addr,
			Username:  s.Redis.Username,
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
		},
	}
}

// services holds the engine components built on one store.
type services struct {
	store     oauth.Store
	registry  *oauth.Registry
	codes     *oauth.Codes
	tokens    *oauth.Tokens
	sweeper   *oauth.Sweeper
	endpoints *mcp.Registry
	publisher events.Publisher
}

func newServices(cfg oauth.Config, store oauth.Store, publisher events.Publisher, logger *zap.Logger) *services {
	return &services{
		store:     store,
		registry:  oauth.NewRegistry(store),
		codes:     oauth.NewCodes(store, cfg.AuthCodeTTL),
		tokens:    oauth.NewTokens(store, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		sweeper:   oauth.NewSweeper(store, store, cfg.SweepInterval, logger),
		endpoints: mcp.NewRegistry(),
		publisher: publisher,
	}
}

// openServices connects the configured store and event sink.
func (e *environment) openServices(ctx context.Context) (*services, error) {
	store, err := storage.Open(ctx, e.storageOptions(), e.logger)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	publisher, err := openPublisher(e.file.Events, e.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	svc := newServices(e.oauth, store, publisher, e.logger)
	for _, ep := range e.file.Endpoints {
		if err := svc.endpoints.Register(ep.Name, ep.UpstreamURL, ep.IsActive()); err != nil {
			svc.Close()
			return nil, err
		}
	}
	return svc, nil
}

func (s *services) Close() {
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	_ = s.store.Close()
}

func openPublisher(cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return events.NopPublisher{}, nil
	case "log":
		return events.NewLogPublisher(logger), nil
	case "amqp":
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing audit events to rabbitmq", zap.String("exchange", cfg.Exchange))
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

// seedClients registers the clients listed in the config file. Existing ids
// are left untouched so restarts never rotate secrets.
func seedClients(ctx context.Context, registry *oauth.Registry, seeds []config.ClientConfig, logger *zap.Logger) error {
	for _, seed := range seeds {
		_, _, err := registry.Register(ctx, seed.Spec())
		switch {
		case errors.Is(err, oauth.ErrClientExists):
			logger.Debug("seed client already registered", zap.String("client_id", seed.ClientID))
		case err != nil:
			return fmt.Errorf("seeding client %s: %w", seed.ClientID, err)
		default:
			logger.Info("seeded client", zap.String("client_id", seed.ClientID))
		}
	}
	return nil
}
