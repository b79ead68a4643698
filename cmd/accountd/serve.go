// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/internal/auth/postgres"
	"github.com/holomush/accountd/internal/auth/redisstore"
	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/internal/logging"
	"github.com/holomush/accountd/internal/mail"
	"github.com/holomush/accountd/internal/notify"
	"github.com/holomush/accountd/internal/observability"
	"github.com/holomush/accountd/internal/store"
	"github.com/holomush/accountd/internal/telemetry"
	"github.com/holomush/accountd/internal/web"
	"github.com/holomush/accountd/pkg/errutil"
)

// Shutdown budgets.
const (
	shutdownTimeout = 10 * time.Second
	flushTimeout    = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the HTTP API together with the metrics and health server.
Configuration comes from --config, the dotenv file, environment variables
and the flags below, in increasing order of precedence.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configOptions(cmd.Flags()))
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the service with injectable dependencies and
// blocks until a signal, a server failure, or ctx ends.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, deps.LogWriter)
	slog.SetDefault(logger)
	logger.Info("starting accountd", "config", cfg)

	reporter, err := deps.ReporterFactory(telemetry.Config{
		DSN:         cfg.Telemetry.SentryDSN,
		Environment: cfg.Telemetry.Environment,
		Release:     version,
	})
	if err != nil {
		return oops.With("operation", "initialize telemetry").Wrap(err)
	}
	defer reporter.Flush(flushTimeout)

	if cfg.Server.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, store.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	var redisClient redis.UniversalClient
	if cfg.Redis.URL != "" {
		redisClient, err = deps.RedisFactory(ctx, cfg.Redis.URL)
		if err != nil {
			return oops.With("operation", "connect to redis").Wrap(err)
		}
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		}()
		logger.Info("connected to redis")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, store.PingCheck(pool))
		metrics = obsServer.Metrics()
	} else {
		// Counters still feed the code paths; nothing exposes them.
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	var background sync.WaitGroup
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	broadcaster := notify.NewBroadcaster(logger)
	sinks := []notify.Sink{broadcaster}
	var ledger auth.ResetLedger
	if redisClient != nil {
		// Every instance hears every event through the bridge, so the local
		// broadcaster is fed from Redis rather than directly.
		sinks = []notify.Sink{notify.NewRedisSink(redisClient)}
		bridge := notify.NewBridge(redisClient, broadcaster, logger)
		background.Add(1)
		go func() {
			defer background.Done()
			if runErr := bridge.Run(bgCtx, nil); runErr != nil {
				errutil.LogError(logger, "notification bridge stopped", runErr)
			}
		}()
		ledger = redisstore.NewResetLedger(redisClient)
	} else {
		pgLedger := postgres.NewResetLedger(pool)
		ledger = pgLedger
		background.Add(1)
		go func() {
			defer background.Done()
			runJanitor(bgCtx, pgLedger, cfg.Auth.JanitorInterval, logger)
		}()
	}

	emitter, err := notify.NewEmitter(notify.EmitterConfig{
		Repo:     postgres.NewNotificationRepository(pool),
		Sinks:    sinks,
		Logger:   logger,
		Recorder: metrics,
	})
	if err != nil {
		return oops.With("operation", "create notification emitter").Wrap(err)
	}

	svc, err := buildService(cfg, deps, pool, ledger, emitter, metrics, logger)
	if err != nil {
		closeEmitter(emitter, logger)
		return err
	}

	webCfg := web.Config{
		Accounts:       svc,
		Streams:        broadcaster,
		Recorder:       metrics,
		Reporter:       reporter,
		Logger:         logger,
		PublicURL:      cfg.Server.PublicURL,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if redisClient != nil && cfg.RateLimit.Requests > 0 {
		limiter, limErr := web.NewRedisLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if limErr != nil {
			closeEmitter(emitter, logger)
			return oops.With("operation", "create rate limiter").Wrap(limErr)
		}
		webCfg.Limiter = limiter
	}
	api, err := web.NewAPI(webCfg)
	if err != nil {
		closeEmitter(emitter, logger)
		return oops.With("operation", "create api").Wrap(err)
	}

	if obsServer != nil {
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			closeEmitter(emitter, logger)
			return oops.With("operation", "start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	apiServer := deps.APIServerFactory(cfg.Server.Addr, api, logger)
	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopObservability(obsServer, logger)
		closeEmitter(emitter, logger)
		return oops.With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("accountd started")
	logger.Info("accountd ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not fully drained", "error", err, "dropped", emitter.Dropped())
	}
	stopBackground()
	background.Wait()
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

// buildService assembles the account service.
func buildService(
	cfg *config.Config,
	deps *ServeDeps,
	pool Database,
	ledger auth.ResetLedger,
	notifier auth.Notifier,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*auth.Service, error) {
	hasher, err := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, oops.With("operation", "create password hasher").Wrap(err)
	}

	sender, err := deps.MailSenderFactory(mail.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		TLS:      cfg.Mail.TLS,
	}, metrics, logger)
	if err != nil {
		return nil, oops.With("operation", "create mail sender").Wrap(err)
	}
	mailer, err := mail.NewMailer(sender)
	if err != nil {
		return nil, oops.With("operation", "create mailer").Wrap(err)
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:         postgres.NewUserRepository(pool),
		Notifications: postgres.NewNotificationRepository(pool),
		Hasher:        hasher,
		Tokens: auth.NewTokenService(auth.TokenConfig{
			Secret:     []byte(cfg.Auth.JWTSecret),
			Issuer:     cfg.Auth.Issuer,
			SessionTTL: cfg.Auth.SessionTTL,
			ResetTTL:   cfg.Auth.ResetTTL,
		}),
		Ledger:   ledger,
		Notifier: notifier,
		Mailer:   mailer,
		Logger:   logger,
		Recorder: metrics,
	})
	if err != nil {
		return nil, oops.With("operation", "create account service").Wrap(err)
	}
	return svc, nil
}

// autoMigrate applies pending migrations before the pool opens.
func autoMigrate(deps *ServeDeps, databaseURL string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	logger.Info("applying database migrations")
	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	return nil
}

func closeEmitter(emitter *notify.Emitter, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := emitter.Close(ctx); err != nil {
		logger.Warn("error closing notification emitter", "error", err)
	}
}

func stopObservability(obsServer ObservabilityServer, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
