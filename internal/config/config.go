package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrMissingBaseDomain = errors.New("BASE_DOMAIN is required")
	ErrWeakSigningKey    = errors.New("SESSION_SIGNING_KEY must be at least 32 bytes")
	ErrBadSealingKey     = errors.New("SESSION_SEALING_KEY must be exactly 32 bytes")
	ErrBadOverrideLimit  = errors.New("OVERRIDE_MAX_DURATION must be positive and at most 1h")
)

// Config holds every option the service recognizes.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":8081"`

	DatabaseURL       string        `env:"DATABASE_URL,required"`
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	AuditDatabaseURL  string        `env:"AUDIT_DATABASE_URL"`
	AuditBufferSize   int           `env:"AUDIT_BUFFER_SIZE" envDefault:"256"`
	IsolationSetting  string        `env:"ISOLATION_SETTING" envDefault:"app.current_tenant"`
	BypassSetting     string        `env:"BYPASS_SETTING" envDefault:"app.rls_bypass"`

	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	BaseDomain      string        `env:"BASE_DOMAIN,required"`
	PublicPaths     []string      `env:"PUBLIC_PATHS" envDefault:"/health,/metrics,/docs,/static/,/v1/admin/,/v1/sessions/" envSeparator:","`
	TenantCacheTTL  time.Duration `env:"TENANT_CACHE_TTL" envDefault:"300s"`
	TenantCacheSize int           `env:"TENANT_CACHE_SIZE" envDefault:"1000"`

	SessionLifetime   time.Duration `env:"SESSION_LIFETIME" envDefault:"4h"`
	SessionSigningKey string        `env:"SESSION_SIGNING_KEY,required"`
	SessionSealingKey string        `env:"SESSION_SEALING_KEY,required"`

	OverrideMaxDuration time.Duration `env:"OVERRIDE_MAX_DURATION" envDefault:"15m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints and fills derived defaults.
func (c *Config) Validate() error {
	c.BaseDomain = strings.Trim(strings.ToLower(strings.TrimSpace(c.BaseDomain)), ".")
	if c.BaseDomain == "" {
		return ErrMissingBaseDomain
	}
	if len(c.SessionSigningKey) < 32 {
		return ErrWeakSigningKey
	}
	if len(c.SessionSealingKey) != 32 {
		return ErrBadSealingKey
	}
	if c.OverrideMaxDuration <= 0 || c.OverrideMaxDuration > time.Hour {
		return ErrBadOverrideLimit
	}
	if c.AuditDatabaseURL == "" {
		c.AuditDatabaseURL = c.DatabaseURL
	}
	return nil
}
