// Package config loads process configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

type Config struct {
	Env         string      `yaml:"env" env:"APP_ENV" env-default:"development"`
	HTTP        HTTP        `yaml:"http"`
	Auth        Auth        `yaml:"auth"`
	Persistence Persistence `yaml:"persistence"`
	Redis       Redis       `yaml:"redis"`
	Queue       Queue       `yaml:"queue"`
	SMTP        SMTP        `yaml:"smtp"`
}

type HTTP struct {
	Address       string `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080"`
}

type Auth struct {
	AccessTokenSecret      string `yaml:"access_token_secret" env:"JWT_ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret     string `yaml:"refresh_token_secret" env:"JWT_REFRESH_TOKEN_SECRET"`
	AccessTokenTTLMs       int64  `yaml:"access_token_expiration_ms" env:"JWT_ACCESS_TOKEN_EXPIRATION_MS" env-default:"900000"`
	RefreshTokenTTLMs      int64  `yaml:"refresh_token_expiration_ms" env:"JWT_REFRESH_TOKEN_EXPIRATION_MS" env-default:"604800000"`
	ActivationTokenTTLMs   int64  `yaml:"activation_token_expiration_ms" env:"ACTIVATION_TOKEN_EXPIRATION_MS" env-default:"86400000"`
	ResetTokenTTLMs        int64  `yaml:"reset_token_expiration_ms" env:"RESET_TOKEN_EXPIRATION_MS" env-default:"3600000"`
	Issuer                 string `yaml:"issuer" env:"JWT_ISSUER" env-default:"go-auth-accounts"`
	AccessCookieName       string `yaml:"access_cookie_name" env:"ACCESS_COOKIE_NAME" env-default:"access_token"`
	RefreshCookieName      string `yaml:"refresh_cookie_name" env:"REFRESH_COOKIE_NAME" env-default:"refresh_token"`
	InvalidateSiblings     bool   `yaml:"invalidate_siblings" env:"INVALIDATE_SIBLING_TOKENS" env-default:"false"`
	HashidAccountIDs       bool   `yaml:"hashid_account_ids" env:"HASHID_ACCOUNT_IDS" env-default:"false"`
	ThrottleLimit          int    `yaml:"throttle_limit" env:"THROTTLE_LIMIT" env-default:"5"`
	ThrottleWindowDuration string `yaml:"throttle_window" env:"THROTTLE_WINDOW" env-default:"15m"`

	env string
}

type Persistence struct {
	Debug                 bool   `yaml:"debug" env:"DB_DEBUG" env-default:"false"`
	Driver                string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	Server                string `yaml:"server" env:"DB_DSN" env-default:"file::memory:?cache=shared"`
	PingTimeoutExpression string `yaml:"ping_timeout" env:"DB_PING_TIMEOUT" env-default:"5s"`
	OtelIdentifier        string `yaml:"otel_identifier" env:"DB_OTEL_IDENTIFIER" env-default:"auth"`
}

type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Queue struct {
	URL   string `yaml:"url" env:"AMQP_URL"`
	Queue string `yaml:"queue" env:"AMQP_MAIL_QUEUE" env-default:"auth.mail"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM" env-default:"no-reply@localhost"`
}

// Load reads CONFIG_PATH when set, otherwise the environment only. The
// result is validated.
func Load() (*Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	cfg.Auth.env = cfg.Env

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Auth.AccessTokenSecret) == "" {
		errs = append(errs, errors.New("JWT_ACCESS_TOKEN_SECRET is required"))
	}
	if strings.TrimSpace(c.Auth.RefreshTokenSecret) == "" {
		errs = append(errs, errors.New("JWT_REFRESH_TOKEN_SECRET is required"))
	}
	if c.Auth.AccessTokenSecret != "" && c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}
	if c.Auth.AccessTokenTTLMs <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TOKEN_EXPIRATION_MS must be positive"))
	}
	if c.Auth.RefreshTokenTTLMs <= c.Auth.AccessTokenTTLMs {
		errs = append(errs, errors.New("JWT_REFRESH_TOKEN_EXPIRATION_MS must be greater than the access token expiration"))
	}
	if c.Auth.ActivationTokenTTLMs <= 0 {
		errs = append(errs, errors.New("ACTIVATION_TOKEN_EXPIRATION_MS must be positive"))
	}
	if c.Auth.ResetTokenTTLMs <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_EXPIRATION_MS must be positive"))
	}
	if _, err := time.ParseDuration(c.Auth.ThrottleWindowDuration); err != nil {
		errs = append(errs, fmt.Errorf("THROTTLE_WINDOW: %w", err))
	}
	if _, err := time.ParseDuration(c.Persistence.PingTimeoutExpression); err != nil {
		errs = append(errs, fmt.Errorf("DB_PING_TIMEOUT: %w", err))
	}
	switch c.Persistence.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.Persistence.Driver))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func (c *Config) GetAuth() *Auth {
	c.Auth.env = c.Env
	return &c.Auth
}

func (c *Config) GetPersistence() Persistence {
	return c.Persistence
}

func (a *Auth) GetAccessTokenSecret() string { return a.AccessTokenSecret }

func (a *Auth) GetRefreshTokenSecret() string { return a.RefreshTokenSecret }

func (a *Auth) GetAccessTokenTTL() time.Duration { return millis(a.AccessTokenTTLMs) }

func (a *Auth) GetRefreshTokenTTL() time.Duration { return millis(a.RefreshTokenTTLMs) }

func (a *Auth) GetActivationTokenTTL() time.Duration { return millis(a.ActivationTokenTTLMs) }

func (a *Auth) GetResetTokenTTL() time.Duration { return millis(a.ResetTokenTTLMs) }

func (a *Auth) GetIssuer() string { return a.Issuer }

func (a *Auth) GetAccessCookieName() string { return a.AccessCookieName }

func (a *Auth) GetRefreshCookieName() string { return a.RefreshCookieName }

// GetSecureCookies is true unless running in development or test.
func (a *Auth) GetSecureCookies() bool {
	return a.env != EnvDevelopment && a.env != EnvTest
}

func (a *Auth) GetThrottleWindow() time.Duration {
	dur, err := time.ParseDuration(a.ThrottleWindowDuration)
	if err != nil {
		return 15 * time.Minute
	}
	return dur
}

func (p Persistence) GetDebug() bool { return p.Debug }

func (p Persistence) GetDriver() string { return p.Driver }

func (p Persistence) GetServer() string { return p.Server }

func (p Persistence) GetDSN() string { return p.Server }

func (p Persistence) GetOtelIdentifier() string { return p.OtelIdentifier }

func (p Persistence) GetPingTimeout() time.Duration {
	dur, err := time.ParseDuration(p.PingTimeoutExpression)
	if err != nil {
		return 5 * time.Second
	}
	return dur
}

func (s SMTP) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
