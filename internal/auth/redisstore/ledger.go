// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redisstore keeps short-lived auth state in Redis.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

const consumedKeyPrefix = "accountd:reset:consumed:"

// minLedgerTTL keeps an entry alive through clock skew between issuer and
// redeemer even when the token is already close to expiry.
const minLedgerTTL = time.Minute

// ResetLedger records redeemed reset tokens as keys that expire with the
// token, so the set never outgrows the live tokens.
type ResetLedger struct {
	client redis.Cmdable
	now    func() time.Time
}

var _ auth.ResetLedger = (*ResetLedger)(nil)

// NewResetLedger creates a ResetLedger on client.
func NewResetLedger(client redis.Cmdable) *ResetLedger {
	return &ResetLedger{client: client, now: time.Now}
}

func (l *ResetLedger) key(tokenID string) string {
	return consumedKeyPrefix + tokenID
}

// Consume sets the token's key if absent. SET NX is atomic, so exactly one
// of several concurrent redemptions wins.
func (l *ResetLedger) Consume(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(l.now())
	if ttl < minLedgerTTL {
		ttl = minLedgerTTL
	}

	err := l.client.SetArgs(ctx, l.key(tokenID), l.now().Unix(), redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return oops.Code("RESET_TOKEN_CONSUMED").
			With("jti", tokenID).
			Wrap(auth.ErrTokenConsumed)
	}
	if err != nil {
		return oops.Code("RESET_LEDGER_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}
	return nil
}
