// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// DefaultEnvFile is read when Options.EnvFile is empty. A missing default
// file is not an error.
const DefaultEnvFile = ".env"

// envKeys maps the supported environment variables to config keys.
var envKeys = map[string]string{
	"PORT":                 "server.addr",
	"PUBLIC_URL":           "server.public_url",
	"CORS_ORIGINS":         "server.cors_origins",
	"TRUSTED_PROXIES":      "server.trusted_proxies",
	"DATABASE_URL":         "database.url",
	"REDIS_URL":            "redis.url",
	"JWT_SECRET_KEY":       "auth.jwt_secret",
	"SMTP_HOST":            "mail.host",
	"SMTP_PORT":            "mail.port",
	"SMTP_USERNAME":        "mail.username",
	"SMTP_PASSWORD":        "mail.password",
	"SMTP_TLS":             "mail.tls",
	"MAIL_FROM":            "mail.from",
	"SENTRY_DSN":           "telemetry.sentry_dsn",
	"SENTRY_ENVIRONMENT":   "telemetry.environment",
	"LOG_FORMAT":           "log.format",
	"LOG_LEVEL":            "log.level",
	"METRICS_ADDR":         "metrics.addr",
	"RATE_LIMIT_REQUESTS":  "rate_limit.requests",
	"RATE_LIMIT_WINDOW":    "rate_limit.window",
	"SESSION_TOKEN_TTL":    "auth.session_ttl",
	"RESET_TOKEN_TTL":      "auth.reset_ttl",
	"BCRYPT_COST":          "auth.bcrypt_cost",
	"DATABASE_MAX_CONNS":   "database.max_conns",
	"DATABASE_AUTOMIGRATE": "server.auto_migrate",
}

// flagKeys maps the flags registered by RegisterFlags to config keys.
var flagKeys = map[string]string{
	"addr":         "server.addr",
	"public-url":   "server.public_url",
	"auto-migrate": "server.auto_migrate",
	"database-url": "database.url",
	"redis-url":    "redis.url",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// RegisterFlags adds the configuration flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("addr", d.Server.Addr, "API listen address")
	flags.String("public-url", "", "external base URL used in reset links (default: request host)")
	flags.Bool("auto-migrate", false, "apply pending migrations before serving")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("redis-url", "", "Redis URL (empty = disabled)")
	flags.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
}

// Options selects the sources Load reads.
type Options struct {
	// File is an optional YAML config file.
	File string
	// EnvFile is a dotenv file; DefaultEnvFile when empty.
	EnvFile string
	// Flags, when set, supplies flag defaults and overrides.
	Flags *pflag.FlagSet
}

// Load reads the configuration layers and validates the result.
func Load(opts Options) (*Config, error) {
	cfg, err := Read(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read merges the configuration layers without validating them.
func Read(opts Options) (*Config, error) {
	k := koanf.New(".")

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("file", opts.File).Wrap(err)
		}
	}

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		// Passing k lets unchanged flags fill only keys no other source set.
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &cfg, nil
}

// loadEnvFile copies a dotenv file into the process environment without
// overriding variables that are already set.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return oops.Code("CONFIG_LOAD_FAILED").With("env_file", path).Wrap(err)
}

func envValue(name, value string) (string, any) {
	key, ok := envKeys[name]
	if !ok || value == "" {
		return "", nil
	}
	if name == "PORT" {
		return key, ":" + value
	}
	return key, value
}
