// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements account registration, login, session
// verification and password reset.
//
// # Domain Types
//
// User and Notification values should be created through NewUser and
// NewNotification, which validate their inputs. Repository implementations
// receive pre-validated values.
//
// # Tokens
//
// TokenService signs two kinds of token with one HMAC secret: session
// tokens carrying a Profile snapshot and reset tokens carrying only an
// email. Every token records its kind and Verify rejects a token of the
// other kind. Reset tokens are single use: Service.ResetPassword consumes
// the token id in a ResetLedger before changing the password.
//
// # Errors
//
// Failures a caller can act on carry one of the Code* oops codes; the HTTP
// layer maps those codes to status and message. Everything else is an
// internal failure.
package auth
