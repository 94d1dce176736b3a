// Package config loads process configuration from the environment, AWS
// Secrets Manager, .env files and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/providentiaww/mcp-oauth-gateway/internal/oauth"
)

// File is the YAML configuration document.
type File struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Events    EventsConfig     `yaml:"events"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Clients   []ClientConfig   `yaml:"clients"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	Development     bool          `yaml:"development"`
}

type StorageConfig struct {
	Driver      string         `yaml:"driver"`
	AutoMigrate bool           `yaml:"auto_migrate"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Redis       RedisConfig    `yaml:"redis"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EventsConfig selects the audit event sink. Driver is "none", "log" or "amqp".
type EventsConfig struct {
	Driver   string `yaml:"driver"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// RateLimitConfig bounds token endpoint requests per client IP.
type RateLimitConfig struct {
	TokenRPS   float64 `yaml:"token_rps"`
	TokenBurst int     `yaml:"token_burst"`
}

// EndpointConfig registers a protected MCP endpoint served under /mcp/<name>.
type EndpointConfig struct {
	Name        string `yaml:"name"`
	UpstreamURL string `yaml:"upstream_url"`
	Active      *bool  `yaml:"active"`
}

// IsActive treats an omitted flag as active.
func (e EndpointConfig) IsActive() bool {
	return e.Active == nil || *e.Active
}

// ClientConfig seeds an OAuth client at startup.
type ClientConfig struct {
	ClientID      string             `yaml:"client_id"`
	Name          string             `yaml:"name"`
	Secret        string             `yaml:"secret"`
	Public        bool               `yaml:"public"`
	RedirectURIs  oauth.RedirectURIs `yaml:"redirect_uris"`
	UpstreamToken string             `yaml:"upstream_token"`
}

// Spec converts the seed into a registration request.
func (c ClientConfig) Spec() oauth.ClientSpec {
	return oauth.ClientSpec{
		ClientID:      c.ClientID,
		Name:          c.Name,
		RedirectURIs:  c.RedirectURIs,
		UpstreamToken: c.UpstreamToken,
		Secret:        c.Secret,
		Public:        c.Public,
	}
}

// Default returns the configuration used when no file is present.
func Default() File {
	return File{
		Server: ServerConfig{
			Addr:            ":3000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			LogLevel:        "info",
		},
		Storage: StorageConfig{
			Driver: "memory",
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Redis: RedisConfig{KeyPrefix: "mcp-oauth:"},
		},
		Events: EventsConfig{
			Driver:   "log",
			Exchange: "mcp.oauth.events",
		},
		RateLimit: RateLimitConfig{
			TokenRPS:   5,
			TokenBurst: 20,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error when allowMissing is set.
func Load(path string, allowMissing bool) (File, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && allowMissing:
	case err != nil:
		return File{}, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return File{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

func (f *File) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		f.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		f.Server.LogLevel = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		f.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		f.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		f.Storage.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		f.Storage.Redis.Password = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		f.Events.AMQPURL = v
	}
}

// Validate checks cross-field constraints.
func (f *File) Validate() error {
	switch strings.ToLower(f.Storage.Driver) {
	case "", "memory":
	case "postgres":
		if f.Storage.Postgres.DSN == "" {
			return errors.New("storage.postgres.dsn (or DATABASE_URL) is required for the postgres driver")
		}
	case "redis":
		if f.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr (or REDIS_ADDR) is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", f.Storage.Driver)
	}

	switch strings.ToLower(f.Events.Driver) {
	case "", "none", "log":
	case "amqp":
		if f.Events.AMQPURL == "" {
			return errors.New("events.amqp_url (or RABBITMQ_URL) is required for the amqp driver")
		}
	default:
		return fmt.Errorf("unknown events driver %q", f.Events.Driver)
	}

	seen := make(map[string]bool, len(f.Endpoints))
	for _, ep := range f.Endpoints {
		if ep.Name == "" || strings.Contains(ep.Name, "/") {
			return fmt.Errorf("invalid endpoint name %q", ep.Name)
		}
		if seen[ep.Name] {
			return fmt.Errorf("duplicate endpoint %q", ep.Name)
		}
		seen[ep.Name] = true
		if ep.UpstreamURL == "" {
			return fmt.Errorf("endpoint %q: upstream_url is required", ep.Name)
		}
	}

	for _, c := range f.Clients {
		if c.ClientID == "" {
			return errors.New("client seed without client_id")
		}
		// a generated secret could never be read back from a seed
		if c.Secret == "" && !c.Public {
			return fmt.Errorf("client %q: secret is required unless public is set", c.ClientID)
		}
	}
	return nil
}
