// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads accountd configuration.
//
// Sources are layered, lowest precedence first: flag defaults, the YAML
// file, a .env file, environment variables, then flags set on the command
// line.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/logging"
	"github.com/holomush/accountd/internal/mail"
)

// MinSecretLength is the shortest accepted token signing secret, in bytes.
const MinSecretLength = 32

// Defaults for values without a flag.
const (
	DefaultAddr            = ":3000"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSMTPPort        = 587
	DefaultRateLimit       = 10
	DefaultRateLimitWindow = time.Minute
	DefaultJanitorInterval = time.Hour
)

// Config is the full accountd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" json:"server,omitempty"`
	Database  DatabaseConfig  `koanf:"database" json:"database,omitempty"`
	Redis     RedisConfig     `koanf:"redis" json:"redis,omitempty"`
	Auth      AuthConfig      `koanf:"auth" json:"auth,omitempty"`
	Mail      MailConfig      `koanf:"mail" json:"mail,omitempty"`
	Log       LogConfig       `koanf:"log" json:"log,omitempty"`
	Telemetry TelemetryConfig `koanf:"telemetry" json:"telemetry,omitempty"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics,omitempty"`
	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rate_limit,omitempty"`
}

// ServerConfig configures the public HTTP API.
type ServerConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" jsonschema:"description=API listen address"`
	// PublicURL is the externally visible base URL used in reset links.
	// When empty the request's scheme and host are used.
	PublicURL      string        `koanf:"public_url" json:"public_url,omitempty" jsonschema:"format=uri"`
	RequestTimeout time.Duration `koanf:"request_timeout" json:"request_timeout,omitempty" jsonschema:"type=string,example=30s"`
	CORSOrigins    []string      `koanf:"cors_origins" json:"cors_origins,omitempty" jsonschema:"description=Allowed origins; glob patterns such as https://*.example.com are accepted"`
	// TrustedProxies lists reverse proxies, as CIDR prefixes or addresses,
	// whose X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string `koanf:"trusted_proxies" json:"trusted_proxies,omitempty" jsonschema:"description=Proxies allowed to set forwarding headers; CIDR prefixes or addresses"`
	AutoMigrate    bool     `koanf:"auto_migrate" json:"auto_migrate,omitempty"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL      string `koanf:"url" json:"url,omitempty"`
	MaxConns int32  `koanf:"max_conns" json:"max_conns,omitempty" jsonschema:"minimum=0"`
	MinConns int32  `koanf:"min_conns" json:"min_conns,omitempty" jsonschema:"minimum=0"`
}

// RedisConfig configures the optional Redis backend. An empty URL disables
// the Redis reset ledger, rate limiting and cross-instance fan-out.
type RedisConfig struct {
	URL string `koanf:"url" json:"url,omitempty"`
}

// AuthConfig configures password hashing and tokens.
type AuthConfig struct {
	JWTSecret       string        `koanf:"jwt_secret" json:"jwt_secret,omitempty"`
	Issuer          string        `koanf:"issuer" json:"issuer,omitempty"`
	SessionTTL      time.Duration `koanf:"session_ttl" json:"session_ttl,omitempty" jsonschema:"type=string,example=24h"`
	ResetTTL        time.Duration `koanf:"reset_ttl" json:"reset_ttl,omitempty" jsonschema:"type=string,example=1h"`
	BcryptCost      int           `koanf:"bcrypt_cost" json:"bcrypt_cost,omitempty" jsonschema:"minimum=4,maximum=31"`
	JanitorInterval time.Duration `koanf:"janitor_interval" json:"janitor_interval,omitempty" jsonschema:"type=string,example=1h"`
}

// MailConfig configures SMTP delivery.
type MailConfig struct {
	Host     string `koanf:"host" json:"host,omitempty"`
	Port     int    `koanf:"port" json:"port,omitempty" jsonschema:"minimum=1,maximum=65535"`
	Username string `koanf:"username" json:"username,omitempty"`
	Password string `koanf:"password" json:"password,omitempty"`
	From     string `koanf:"from" json:"from,omitempty"`
	TLS      string `koanf:"tls" json:"tls,omitempty" jsonschema:"enum=mandatory,enum=opportunistic,enum=none"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// TelemetryConfig configures error reporting.
type TelemetryConfig struct {
	SentryDSN   string `koanf:"sentry_dsn" json:"sentry_dsn,omitempty"`
	Environment string `koanf:"environment" json:"environment,omitempty"`
}

// MetricsConfig configures the metrics and health server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// RateLimitConfig bounds requests per client IP on the login and password
// reset routes. Requests of 0 disables limiting.
type RateLimitConfig struct {
	Requests int           `koanf:"requests" json:"requests,omitempty" jsonschema:"minimum=0"`
	Window   time.Duration `koanf:"window" json:"window,omitempty" jsonschema:"type=string,example=1m"`
}

// Default returns the configuration used for anything no source sets.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           DefaultAddr,
			RequestTimeout: DefaultRequestTimeout,
		},
		Auth: AuthConfig{
			Issuer:          auth.DefaultTokenIssuer,
			SessionTTL:      auth.DefaultSessionTTL,
			ResetTTL:        auth.DefaultResetTTL,
			BcryptCost:      auth.DefaultBcryptCost,
			JanitorInterval: DefaultJanitorInterval,
		},
		Mail: MailConfig{
			Port: DefaultSMTPPort,
			TLS:  mail.TLSMandatory,
		},
		Log: LogConfig{
			Format: logging.FormatJSON,
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
		RateLimit: RateLimitConfig{
			Requests: DefaultRateLimit,
			Window:   DefaultRateLimitWindow,
		},
	}
}

// Validate reports every problem with the configuration in one
// CONFIG_INVALID error.
func (c *Config) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		addf("server.addr is required")
	}
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			addf("server.public_url must be an absolute http or https URL, got %q", c.Server.PublicURL)
		}
	}
	if c.Server.RequestTimeout <= 0 {
		addf("server.request_timeout must be positive")
	}
	for _, origin := range c.Server.CORSOrigins {
		if _, err := glob.Compile(origin); err != nil {
			addf("server.cors_origins: invalid pattern %q: %v", origin, err)
		}
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			addf("server.trusted_proxies: %q is not a CIDR prefix or IP address", proxy)
		}
	}

	if c.Database.URL == "" {
		addf("database.url is required (DATABASE_URL)")
	}
	if c.Database.MinConns < 0 || c.Database.MaxConns < 0 {
		addf("database connection limits cannot be negative")
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		addf("database.min_conns (%d) exceeds database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if len(c.Auth.JWTSecret) < MinSecretLength {
		addf("auth.jwt_secret must be at least %d bytes (JWT_SECRET_KEY)", MinSecretLength)
	}
	if c.Auth.SessionTTL <= 0 {
		addf("auth.session_ttl must be positive")
	}
	if c.Auth.ResetTTL <= 0 {
		addf("auth.reset_ttl must be positive")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		addf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.JanitorInterval <= 0 {
		addf("auth.janitor_interval must be positive")
	}

	if c.Mail.Host == "" {
		addf("mail.host is required (SMTP_HOST)")
	}
	if c.Mail.From == "" {
		addf("mail.from is required (MAIL_FROM)")
	}
	if c.Mail.Port < 1 || c.Mail.Port > 65535 {
		addf("mail.port must be between 1 and 65535")
	}
	if !slices.Contains([]string{mail.TLSMandatory, mail.TLSOpportunistic, mail.TLSNone}, strings.ToLower(c.Mail.TLS)) {
		addf("mail.tls must be one of mandatory, opportunistic, none")
	}

	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatText {
		addf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		addf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.RateLimit.Requests < 0 {
		addf("rate_limit.requests cannot be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		addf("rate_limit.window must be positive when rate limiting is enabled")
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LogValue implements slog.LogValuer with secrets masked.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Server.Addr),
		slog.String("public_url", c.Server.PublicURL),
		slog.String("database_url", redactURL(c.Database.URL)),
		slog.String("redis_url", redactURL(c.Redis.URL)),
		slog.String("smtp_host", c.Mail.Host),
		slog.Int("smtp_port", c.Mail.Port),
		slog.String("mail_from", c.Mail.From),
		slog.Bool("sentry", c.Telemetry.SentryDSN != ""),
		slog.String("metrics_addr", c.Metrics.Addr),
		slog.Int("rate_limit", c.RateLimit.Requests),
	)
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

func validProxy(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}
