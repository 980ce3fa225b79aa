package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	// DevIPHashSalt is the salt used when IP_HASH_SALT is unset. Production
	// deployments must override it.
	DevIPHashSalt = "rusuite-dev-salt"
)

type Config struct {
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	Environment string `env:"ENVIRONMENT" default:"development"`
	CORSOrigins string `env:"CORS_ORIGINS" default:"*"`
	// ProxyHeader names the header carrying the client IP (e.g. X-Forwarded-For)
	// when running behind a reverse proxy. It is only read from peers listed in
	// ProxyTrusted, a comma-separated list of IPs or CIDRs.
	ProxyHeader  string `env:"PROXY_HEADER"`
	ProxyTrusted string `env:"PROXY_TRUSTED"`

	Store          string        `env:"STORE" default:"postgres"`
	VoteCooldown   time.Duration `env:"VOTE_COOLDOWN" default:"12h"`
	TargetCacheTTL time.Duration `env:"TARGET_CACHE_TTL" default:"5m"`

	IPHashSalt string `env:"IP_HASH_SALT" default:"rusuite-dev-salt"`
	JWTSecret  string `env:"JWT_SECRET"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// TrustedProxies splits PROXY_TRUSTED into its entries.
func (c *Config) TrustedProxies() []string {
	var out []string
	for _, p := range strings.Split(c.ProxyTrusted, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.VoteCooldown <= 0 {
		return errors.New("VOTE_COOLDOWN must be positive")
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if c.ProxyHeader != "" && len(c.TrustedProxies()) == 0 {
		return errors.New("PROXY_TRUSTED is required when PROXY_HEADER is set")
	}

	if c.IsProduction() {
		if c.IPHashSalt == "" || c.IPHashSalt == DevIPHashSalt {
			return errors.New("IP_HASH_SALT must be set in production")
		}
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET must be set in production")
		}
	}
	return nil
}
