package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lborres/kapitbahay/core"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kapitbahay.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// Requirement: with no file and no environment the defaults apply,
// including the 1s/2s/4s profile retry schedule.
func TestLoad_Defaults(t *testing.T) {
	// Act
	cfg, err := Load("")

	// Assert
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.InitialBackoff != time.Second || cfg.Retry.BackoffFactor != 2 {
		t.Errorf("Retry = %+v, want 3 retries from 1s doubling", cfg.Retry)
	}
	if cfg.Guard.AuthPath != "/auth" {
		t.Errorf("Guard.AuthPath = %q, want /auth", cfg.Guard.AuthPath)
	}
}

// Requirement: the YAML file overrides defaults it names and leaves the
// rest alone.
func TestLoad_File(t *testing.T) {
	// Arrange
	path := writeFile(t, `
server:
  addr: ":9000"
  loading_wait: 2s
database:
  url: postgres://localhost/kapitbahay
auth:
  secret: `+testSecret+`
  admin_emails: [admin@example.com]
retry:
  max_retries: 5
guard:
  home_path: /home
`)

	// Act
	cfg, err := Load(path)

	// Assert
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.LoadingWait != 2*time.Second {
		t.Errorf("Server = %+v, want addr :9000 and loading wait 2s", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want default 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.Retry.InitialBackoff != time.Second {
		t.Errorf("Retry = %+v, want 5 retries keeping the 1s initial backoff", cfg.Retry)
	}
	if cfg.Guard.HomePath != "/home" || cfg.Guard.AuthPath != "/auth" {
		t.Errorf("Guard = %+v, want home /home and default auth path", cfg.Guard)
	}
	if len(cfg.Auth.AdminEmails) != 1 || cfg.Auth.AdminEmails[0] != "admin@example.com" {
		t.Errorf("Auth.AdminEmails = %v", cfg.Auth.AdminEmails)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

// Requirement: KAPITBAHAY_* environment variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	// Arrange
	path := writeFile(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("KAPITBAHAY_SERVER_ADDR", ":7000")
	t.Setenv("KAPITBAHAY_DATABASE_URL", "postgres://db/kapitbahay")
	t.Setenv("KAPITBAHAY_AUTH_ADMIN_EMAILS", "a@example.com, b@example.com")
	t.Setenv("KAPITBAHAY_RETRY_INITIAL_BACKOFF", "250ms")
	t.Setenv("KAPITBAHAY_SMTP_HOST", "smtp.example.com")
	t.Setenv("KAPITBAHAY_SMTP_PORT", "587")

	// Act
	cfg, err := Load(path)

	// Assert
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000", cfg.Server.Addr)
	}
	if cfg.Database.URL != "postgres://db/kapitbahay" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if len(cfg.Auth.AdminEmails) != 2 || cfg.Auth.AdminEmails[1] != "b@example.com" {
		t.Errorf("Auth.AdminEmails = %q, want two trimmed addresses", cfg.Auth.AdminEmails)
	}
	if cfg.Retry.InitialBackoff != 250*time.Millisecond {
		t.Errorf("Retry.InitialBackoff = %v, want 250ms", cfg.Retry.InitialBackoff)
	}
	if !cfg.SMTP.Enabled() || cfg.SMTP.Port != 587 {
		t.Errorf("SMTP = %+v, want host and port from env", cfg.SMTP)
	}
}

// Requirement: a missing or malformed file is an error.
func TestLoad_BadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with a missing file should fail")
	}
	if _, err := Load(writeFile(t, "server: [")); err == nil {
		t.Error("Load() with malformed yaml should fail")
	}
}

// Requirement: Validate rejects configurations the server cannot run with.
func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/kapitbahay"
		cfg.Auth.Secret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database url", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: ErrInvalidConfig},
		{name: "short secret", mutate: func(c *Config) { c.Auth.Secret = "short" }, wantErr: ErrInvalidConfig},
		{name: "empty addr", mutate: func(c *Config) { c.Server.Addr = "" }, wantErr: ErrInvalidConfig},
		{name: "zero session age", mutate: func(c *Config) { c.Session.MaxAge = 0 }, wantErr: ErrInvalidConfig},
		{name: "negative retries", mutate: func(c *Config) { c.Retry.MaxRetries = -1 }, wantErr: core.ErrInvalidRetryPolicy},
		{name: "smtp without sender", mutate: func(c *Config) {
			c.SMTP.Host = "smtp.example.com"
			c.SMTP.Port = 587
		}, wantErr: core.ErrInvalidMailConfig},
		{name: "smtp without recovery url", mutate: func(c *Config) {
			c.SMTP.Host = "smtp.example.com"
			c.SMTP.Port = 587
			c.SMTP.From = "noreply@example.com"
		}, wantErr: ErrInvalidConfig},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: ErrInvalidConfig},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: ErrInvalidConfig},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			cfg := valid()
			test.mutate(&cfg)

			// Act
			err := cfg.Validate()

			// Assert
			if test.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, test.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

// Requirement: the json format writes one JSON object per line at the
// configured level.
func TestLogConfig_Logger(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	log := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)

	// Act
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	// Assert
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("warn line missing: %s", out)
	}
}
