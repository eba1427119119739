// Package config loads the server configuration from an optional YAML file
// and KAPITBAHAY_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lborres/kapitbahay/pkg/mailer"
	"github.com/lborres/kapitbahay/services"
)

const EnvPrefix = "KAPITBAHAY_"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server   ServerConfig         `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig       `yaml:"database" envPrefix:"DATABASE_"`
	Auth     AuthConfig           `yaml:"auth" envPrefix:"AUTH_"`
	Session  SessionConfig        `yaml:"session" envPrefix:"SESSION_"`
	Retry    services.RetryPolicy `yaml:"retry" envPrefix:"RETRY_"`
	Guard    services.GuardConfig `yaml:"guard" envPrefix:"GUARD_"`
	SMTP     mailer.Config        `yaml:"smtp" envPrefix:"SMTP_"`
	Log      LogConfig            `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	CookieSecure    bool          `yaml:"cookie_secure" env:"COOKIE_SECURE"`

	// LoadingWait bounds how long a guarded request waits for a client's
	// session to settle
	LoadingWait   time.Duration `yaml:"loading_wait" env:"LOADING_WAIT"`
	ClientIdleTTL time.Duration `yaml:"client_idle_ttl" env:"CLIENT_IDLE_TTL"`
	MaxClients    int           `yaml:"max_clients" env:"MAX_CLIENTS"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

type DatabaseConfig struct {
	URL string `yaml:"url" env:"URL"`
	// Listen subscribes to the database's auth event channel so that
	// changes made by other instances reach this one
	Listen bool `yaml:"listen" env:"LISTEN"`
}

func (c DatabaseConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: database url is required", ErrInvalidConfig)
	}
	return nil
}

type AuthConfig struct {
	Secret      string   `yaml:"secret" env:"SECRET"`
	AdminEmails []string `yaml:"admin_emails" env:"ADMIN_EMAILS"`
	RecoveryURL string   `yaml:"recovery_url" env:"RECOVERY_URL"`
	// RecoveryTTL is how long a mailed recovery link stays valid
	RecoveryTTL time.Duration `yaml:"recovery_ttl" env:"RECOVERY_TTL"`
}

type SessionConfig struct {
	MaxAge        time.Duration `yaml:"max_age" env:"MAX_AGE"`
	CacheTTL      time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	CacheSize     int           `yaml:"cache_size" env:"CACHE_SIZE"`
	PurgeInterval time.Duration `yaml:"purge_interval" env:"PURGE_INTERVAL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // console or json
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			LoadingWait:     1500 * time.Millisecond,
			ClientIdleTTL:   30 * time.Minute,
			MaxClients:      10000,
			SweepInterval:   time.Minute,
		},
		Database: DatabaseConfig{Listen: true},
		Auth:     AuthConfig{RecoveryTTL: time.Hour},
		Session: SessionConfig{
			MaxAge:        24 * time.Hour,
			CacheTTL:      5 * time.Minute,
			CacheSize:     500,
			PurgeInterval: time.Hour,
		},
		Retry: services.DefaultRetryPolicy(),
		Guard: services.DefaultGuardConfig(),
		Log:   LogConfig{Level: "info", Format: "console"},
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then applies environment overrides. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}

	for i, email := range cfg.Auth.AdminEmails {
		cfg.Auth.AdminEmails[i] = strings.TrimSpace(email)
	}

	return cfg, nil
}

// Validate checks everything the serve command needs
func (c Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("%w: auth secret must be at least 32 characters", ErrInvalidConfig)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server address is required", ErrInvalidConfig)
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("%w: session max age must be > 0", ErrInvalidConfig)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.SMTP.Enabled() {
		if err := c.SMTP.Validate(); err != nil {
			return err
		}
		if c.Auth.RecoveryURL == "" {
			return fmt.Errorf("%w: recovery url is required when smtp is configured", ErrInvalidConfig)
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Logger builds the root logger. Console output is meant for a terminal,
// json for log shippers.
func (c LogConfig) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
