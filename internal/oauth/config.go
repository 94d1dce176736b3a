package oauth

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds OAuth server settings.
type Config struct {
	// Issuer is the default origin used when a request carries no host information.
	Issuer              string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	AuthCodeTTL         time.Duration
	SweepInterval       time.Duration
	AdminJWTSecret      string
	ProtectedPathPrefix string
}

// DefaultConfig returns the lifetimes the server has always used.
func DefaultConfig() Config {
	return Config{
		Issuer:              "http://localhost:3000",
		AccessTokenTTL:      time.Hour,
		RefreshTokenTTL:     30 * 24 * time.Hour,
		AuthCodeTTL:         10 * time.Minute,
		SweepInterval:       5 * time.Minute,
		ProtectedPathPrefix: "/mcp/",
	}
}

// LoadConfigFromEnv loads OAuth config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if issuer := strings.TrimSpace(os.Getenv("OAUTH_ISSUER")); issuer != "" {
		u, err := url.Parse(issuer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("OAUTH_ISSUER must be an absolute URL, got %q", issuer)
		}
		cfg.Issuer = strings.TrimRight(issuer, "/")
	}

	cfg.AccessTokenTTL = parseDurationEnv("OAUTH_ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = parseDurationEnv("OAUTH_REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL)
	cfg.AuthCodeTTL = parseDurationEnv("OAUTH_AUTH_CODE_TTL", cfg.AuthCodeTTL)
	cfg.SweepInterval = parseDurationEnv("OAUTH_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.AdminJWTSecret = os.Getenv("OAUTH_ADMIN_JWT_SECRET")

	if prefix := strings.TrimSpace(os.Getenv("OAUTH_PROTECTED_PATH_PREFIX")); prefix != "" {
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		cfg.ProtectedPathPrefix = prefix
	}

	if cfg.RefreshTokenTTL < cfg.AccessTokenTTL {
		return Config{}, fmt.Errorf("OAUTH_REFRESH_TOKEN_TTL (%s) must not be shorter than OAUTH_ACCESS_TOKEN_TTL (%s)",
			cfg.RefreshTokenTTL, cfg.AccessTokenTTL)
	}
	return cfg, nil
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if dur, err := time.ParseDuration(val); err == nil && dur > 0 {
			return dur
		}
	}
	return fallback
}
