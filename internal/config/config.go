package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aman-churiwal/chatguard/internal/logging"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       logging.Config  `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Routes    []RouteConfig   `mapstructure:"routes"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	Environment  string   `mapstructure:"environment"`
	AllowOrigins []string `mapstructure:"allow_origins"`

	// Peers whose X-Forwarded-For / X-Real-IP is believed. Empty trusts nobody and
	// limits anonymous traffic by the connection's address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Postgres holds the operator accounts and the reputation audit trail.
// Leaving the DSN empty disables both.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTExpiryHours int    `mapstructure:"jwt_expiry_hours"`
	AdminEmail     string `mapstructure:"admin_email"`
	AdminPassword  string `mapstructure:"admin_password"`

	// HS256 secret of the dashboard's session tokens. When set, requests carrying a
	// valid dashboard token are limited per user instead of per IP.
	DashboardJWTSecret string `mapstructure:"dashboard_jwt_secret"`
}

type RateLimitConfig struct {
	// "redis" or "memory"
	Storage string `mapstructure:"storage"`

	// Upper bound on one limiter round trip before failing open
	Timeout time.Duration `mapstructure:"timeout"`

	ViolationLogSize    int           `mapstructure:"violation_log_size"`
	EscalationThreshold int           `mapstructure:"escalation_threshold"`
	EscalationWindow    time.Duration `mapstructure:"escalation_window"`

	Breaker BreakerConfig `mapstructure:"breaker"`

	// Overrides for the built-in policies, keyed by limit type
	Policies map[string]PolicyConfig `mapstructure:"policies"`
}

type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PolicyConfig struct {
	Points        int `mapstructure:"points"`
	WindowSeconds int `mapstructure:"window_seconds"`
	BlockSeconds  int `mapstructure:"block_seconds"`
}

// Dashboard backend that protected routes are forwarded to
type UpstreamConfig struct {
	Target string `mapstructure:"target"`
}

type RouteConfig struct {
	Path      string `mapstructure:"path"`
	LimitType string `mapstructure:"limit_type"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry_hours", 12)
	v.SetDefault("auth.admin_email", "")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("auth.dashboard_jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("rate_limit.storage", "redis")
	v.SetDefault("rate_limit.timeout", "250ms")
	v.SetDefault("rate_limit.violation_log_size", 1000)
	v.SetDefault("rate_limit.escalation_threshold", 10)
	v.SetDefault("rate_limit.escalation_window", "720h")
	v.SetDefault("rate_limit.breaker.max_failures", 5)
	v.SetDefault("rate_limit.breaker.timeout", "10s")

	v.SetDefault("upstream.target", "")
}

// Reads the JSON config file (if present) and applies CHATGUARD_* environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("chatguard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine, everything has a default or an env override
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("failed to read config %s: %w", path, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.RateLimit.Storage {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported rate_limit.storage: %q", c.RateLimit.Storage)
	}

	if c.RateLimit.Timeout <= 0 {
		return errors.New("rate_limit.timeout must be positive")
	}
	if c.RateLimit.ViolationLogSize <= 0 {
		return errors.New("rate_limit.violation_log_size must be positive")
	}
	if c.RateLimit.EscalationThreshold <= 0 {
		return errors.New("rate_limit.escalation_threshold must be positive")
	}
	if c.RateLimit.EscalationWindow < 0 {
		return errors.New("rate_limit.escalation_window must not be negative")
	}

	if len(c.Routes) > 0 && c.Upstream.Target == "" {
		return errors.New("upstream.target is required when routes are configured")
	}

	if c.Postgres.DSN != "" && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when postgres is configured")
	}

	return nil
}
