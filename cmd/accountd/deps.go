// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth/postgres"
	"github.com/holomush/accountd/internal/mail"
	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/internal/telemetry"
	"github.com/holomush/accountd/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the PostgreSQL pool.
	// Default: store.OpenPool
	PoolFactory func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error)

	// RedisFactory connects to Redis. Only called when a Redis URL is set.
	// Default: newRedisClient
	RedisFactory func(ctx context.Context, url string) (redis.UniversalClient, error)

	// MigratorFactory creates a migrator for --auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checker observability.ReadinessChecker) ObservabilityServer

	// APIServerFactory creates the HTTP API server.
	// Default: web.NewServer
	APIServerFactory func(addr string, api *web.API, logger *slog.Logger) APIServer

	// MailSenderFactory creates the mail transport.
	// Default: mail.NewSMTPSender
	MailSenderFactory func(cfg mail.SMTPConfig, recorder mail.FailureRecorder, logger *slog.Logger) (mail.Sender, error)

	// ReporterFactory creates the error reporter.
	// Default: telemetry.New
	ReporterFactory func(cfg telemetry.Config) (telemetry.Reporter, error)

	// LogWriter receives log output. Default: os.Stderr
	LogWriter io.Writer
}

// withDefaults fills every unset factory.
func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, cfg store.PoolConfig) (Database, error) {
			return store.OpenPool(ctx, url, cfg)
		}
	}
	if out.RedisFactory == nil {
		out.RedisFactory = newRedisClient
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, checker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, checker)
		}
	}
	if out.APIServerFactory == nil {
		out.APIServerFactory = func(addr string, api *web.API, logger *slog.Logger) APIServer {
			return web.NewServer(addr, api, logger)
		}
	}
	if out.MailSenderFactory == nil {
		out.MailSenderFactory = func(cfg mail.SMTPConfig, recorder mail.FailureRecorder, logger *slog.Logger) (mail.Sender, error) {
			return mail.NewSMTPSender(cfg, recorder, logger)
		}
	}
	if out.ReporterFactory == nil {
		out.ReporterFactory = telemetry.New
	}
	return &out
}

// Database is the connection pool the service runs on. *pgxpool.Pool
// satisfies it.
type Database interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the migrator methods serve uses.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// APIServer interface wraps the methods used from web.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// newRedisClient parses url and checks the server answers.
func newRedisClient(ctx context.Context, url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("setting", "redis.url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}
