// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/holomush/accountd/internal/config"
	"github.com/holomush/accountd/pkg/errutil"
)

// expiredPruner deletes ledger entries whose tokens can no longer verify.
type expiredPruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// runJanitor prunes the reset ledger at startup and then every interval
// until ctx ends.
func runJanitor(ctx context.Context, pruner expiredPruner, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = config.DefaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pruned, err := pruner.DeleteExpired(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			errutil.LogError(logger, "reset ledger cleanup failed", err)
		case pruned > 0:
			logger.Info("pruned expired reset tokens", "count", pruned)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
