// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing unique key.
var ErrDuplicate = errors.New("already exists")

// ErrTokenConsumed is returned by a ResetLedger for a token id it has already recorded.
var ErrTokenConsumed = errors.New("token already consumed")

// Codes callers can act on.
const (
	CodeInputRequired      = "AUTH_INPUT_REQUIRED"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeResetRequired      = "RESET_PASSWORD_REQUIRED"
	CodeResetMismatch      = "RESET_PASSWORD_MISMATCH"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeEmptyPassword      = "AUTH_EMPTY_PASSWORD"
	CodePasswordTooLong    = "AUTH_PASSWORD_TOO_LONG"
	CodeCorruptCredential  = "AUTH_CORRUPT_CREDENTIAL"
	CodeConfigInvalid      = "CONFIG_INVALID"
)

// TokenErrorReason says why a token was refused.
type TokenErrorReason int

// Token refusal reasons.
const (
	TokenMalformed TokenErrorReason = iota + 1
	TokenExpired
	TokenSignatureMismatch
	TokenKindMismatch
	TokenReplayed
)

func (r TokenErrorReason) String() string {
	switch r {
	case TokenMalformed:
		return "malformed"
	case TokenExpired:
		return "expired"
	case TokenSignatureMismatch:
		return "signature_mismatch"
	case TokenKindMismatch:
		return "kind_mismatch"
	case TokenReplayed:
		return "replayed"
	default:
		return "unknown"
	}
}

// TokenError is the cause beneath every CodeInvalidToken error.
type TokenError struct {
	Reason TokenErrorReason
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "token " + e.Reason.String() + ": " + e.Err.Error()
	}
	return "token " + e.Reason.String()
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// TokenErrorReasonOf returns the reason of the TokenError in err's chain.
func TokenErrorReasonOf(err error) (TokenErrorReason, bool) {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason, true
	}
	return 0, false
}
