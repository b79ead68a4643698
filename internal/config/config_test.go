// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/accountd/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// isolateEnv clears every supported variable for the test and restores it
// afterwards.
func isolateEnv(t *testing.T) {
	t.Helper()
	for name := range envKeys {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() Config {
	cfg := Default()
	cfg.Database.URL = "postgres://accountd@localhost/accountd"
	cfg.Auth.JWTSecret = testSecret
	cfg.Mail.Host = "smtp.example.com"
	cfg.Mail.From = "noreply@example.com"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 587, cfg.Mail.Port)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		problem string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database.url is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret must be at least 32 bytes"},
		{"missing smtp host", func(c *Config) { c.Mail.Host = "" }, "mail.host is required"},
		{"missing sender", func(c *Config) { c.Mail.From = "" }, "mail.from is required"},
		{"bad port", func(c *Config) { c.Mail.Port = 70000 }, "mail.port"},
		{"bad tls", func(c *Config) { c.Mail.TLS = "sometimes" }, "mail.tls"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"zero session ttl", func(c *Config) { c.Auth.SessionTTL = 0 }, "auth.session_ttl"},
		{"bcrypt cost", func(c *Config) { c.Auth.BcryptCost = 3 }, "auth.bcrypt_cost"},
		{"relative public url", func(c *Config) { c.Server.PublicURL = "/accounts" }, "server.public_url"},
		{"bad cors glob", func(c *Config) { c.Server.CORSOrigins = []string{"https://[a.example.com"} }, "server.cors_origins"},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} }, "server.trusted_proxies"},
		{"proxy address and prefix", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.1", "fd00::/8"} }, ""},
		{"rate limit without window", func(c *Config) { c.RateLimit.Window = 0 }, "rate_limit.window"},
		{"conn limits", func(c *Config) { c.Database.MaxConns, c.Database.MinConns = 2, 5 }, "database.min_conns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.problem == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	problems, ok := oopsErr.Context()["problems"].([]string)
	require.True(t, ok)
	assert.Len(t, problems, 4, "database url, secret, smtp host and sender")
}

func TestLoad_Layering(t *testing.T) {
	isolateEnv(t)

	file := writeFile(t, "accountd.yaml", `
server:
  addr: ":4000"
  cors_origins: ["https://*.example.com"]
database:
  url: postgres://file@db/accountd
auth:
  jwt_secret: `+testSecret+`
  session_ttl: 2h
mail:
  host: smtp.file.example.com
  from: file@example.com
log:
  level: debug
`)
	t.Setenv("SMTP_HOST", "smtp.env.example.com")
	t.Setenv("PORT", "5000")
	t.Setenv("RESET_TOKEN_TTL", "15m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--log-format", "text"}))

	cfg, err := Load(Options{File: file, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Addr, "env beats file")
	assert.Equal(t, "smtp.env.example.com", cfg.Mail.Host, "env beats file")
	assert.Equal(t, "file@example.com", cfg.Mail.From)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.ResetTTL)
	assert.Equal(t, "debug", cfg.Log.Level, "unset flag default does not beat file")
	assert.Equal(t, "text", cfg.Log.Format, "set flag beats defaults")
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Addr, "flag default fills gaps")
	assert.Equal(t, []string{"https://*.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 587, cfg.Mail.Port, "struct default")
}

func TestLoad_SetFlagBeatsEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "postgres://env@db/accountd")
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("MAIL_FROM", "noreply@example.com")
	t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.1")
	t.Setenv("SMTP_PORT", "2525")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--database-url", "postgres://flag@db/accountd"}))

	cfg, err := Load(Options{Flags: flags})
	require.NoError(t, err)
	assert.Equal(t, "postgres://flag@db/accountd", cfg.Database.URL)
	assert.Equal(t, 2525, cfg.Mail.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Server.TrustedProxies)
}

func TestLoad_EnvFile(t *testing.T) {
	isolateEnv(t)
	envFile := writeFile(t, "test.env", strings.Join([]string{
		"DATABASE_URL=postgres://dotenv@db/accountd",
		"JWT_SECRET_KEY=" + testSecret,
		"SMTP_HOST=smtp.dotenv.example.com",
		"MAIL_FROM=dotenv@example.com",
	}, "\n"))
	// Already-set variables win over the dotenv file.
	t.Setenv("SMTP_HOST", "smtp.env.example.com")

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "postgres://dotenv@db/accountd", cfg.Database.URL)
	assert.Equal(t, "smtp.env.example.com", cfg.Mail.Host)
}

func TestLoad_Errors(t *testing.T) {
	isolateEnv(t)

	_, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.yaml")})
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")

	_, err = Load(Options{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")

	_, err = Load(Options{})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestRead_SkipsValidation(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "postgres://env@db/accountd")

	cfg, err := Read(Options{})
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@db/accountd", cfg.Database.URL)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestConfig_LogValueRedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://accountd:hunter2@db/accountd"
	cfg.Mail.Password = "smtp-secret"

	rendered := cfg.LogValue().String()
	assert.NotContains(t, rendered, "hunter2")
	assert.NotContains(t, rendered, testSecret)
	assert.NotContains(t, rendered, "smtp-secret")
	assert.Contains(t, rendered, "db/accountd")
}
