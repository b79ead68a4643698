// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

// ResetLedger records redeemed reset tokens in consumed_reset_tokens.
type ResetLedger struct {
	pool Pool
}

var _ auth.ResetLedger = (*ResetLedger)(nil)

// NewResetLedger creates a new ResetLedger.
func NewResetLedger(pool Pool) *ResetLedger {
	return &ResetLedger{pool: pool}
}

// Consume records tokenID. The primary key makes the first caller win.
func (l *ResetLedger) Consume(ctx context.Context, tokenID string, expiresAt time.Time) error {
	result, err := l.pool.Exec(ctx, `
		INSERT INTO consumed_reset_tokens (jti, expires_at, consumed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING
	`, tokenID, expiresAt, time.Now())
	if err != nil {
		return oops.Code("RESET_LEDGER_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_TOKEN_CONSUMED").
			With("jti", tokenID).
			Wrap(auth.ErrTokenConsumed)
	}
	return nil
}

// DeleteExpired removes entries whose tokens can no longer verify and
// returns the count.
func (l *ResetLedger) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := l.pool.Exec(ctx, `
		DELETE FROM consumed_reset_tokens WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("RESET_LEDGER_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired consumed_reset_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}
