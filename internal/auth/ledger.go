// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"
)

// ResetLedger remembers which reset tokens have been redeemed.
type ResetLedger interface {
	// Consume records tokenID as used. Entries may be forgotten after
	// expiresAt since the token itself is dead by then. Returns an error
	// wrapping ErrTokenConsumed when tokenID was already recorded.
	Consume(ctx context.Context, tokenID string, expiresAt time.Time) error
}
