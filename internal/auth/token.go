// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenKind separates the claim shapes signed with the shared secret.
type TokenKind string

// Token kinds.
const (
	KindSession TokenKind = "session"
	KindReset   TokenKind = "reset"
)

// Token defaults.
const (
	DefaultTokenIssuer = "accountd"
	DefaultSessionTTL  = 24 * time.Hour
	DefaultResetTTL    = time.Hour
)

// Claims is the payload of both token kinds. Reset tokens carry only Email.
type Claims struct {
	Kind   TokenKind `json:"kind"`
	UserID string    `json:"uid,omitempty"`
	Name   string    `json:"name,omitempty"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// Profile rebuilds the user snapshot carried by a session token. The parse
// error is returned bare so callers can attach their own code.
func (c *Claims) Profile() (Profile, error) {
	id, err := ulid.Parse(c.UserID)
	if err != nil {
		return Profile{}, err //nolint:wrapcheck // wrapped by caller
	}
	return Profile{ID: id, Name: c.Name, Email: c.Email}, nil
}

// TokenSigner issues and verifies signed tokens.
type TokenSigner interface {
	Issue(kind TokenKind, subject Profile) (string, error)
	Verify(kind TokenKind, token string) (*Claims, error)
}

// TokenConfig configures a TokenService. Zero durations and an empty
// issuer take the defaults.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	SessionTTL time.Duration
	ResetTTL   time.Duration
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// TokenService signs HS256 JWTs.
type TokenService struct {
	secret []byte
	issuer string
	ttl    map[TokenKind]time.Duration
	now    func() time.Time
}

var _ TokenSigner = (*TokenService)(nil)

// NewTokenService creates a TokenService. A missing secret is reported by
// Issue and Verify, not here, so a process can start and fail per request.
func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultTokenIssuer
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenService{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl: map[TokenKind]time.Duration{
			KindSession: cfg.SessionTTL,
			KindReset:   cfg.ResetTTL,
		},
		now: cfg.Now,
	}
}

func (s *TokenService) checkSecret() error {
	if len(s.secret) == 0 {
		return oops.Code(CodeConfigInvalid).Errorf("token signing secret is not configured")
	}
	return nil
}

// Issue signs a token of the given kind for subject. Session tokens embed
// the whole profile; reset tokens embed only the email.
func (s *TokenService) Issue(kind TokenKind, subject Profile) (string, error) {
	if err := s.checkSecret(); err != nil {
		return "", err
	}
	ttl, ok := s.ttl[kind]
	if !ok {
		return "", oops.Code("TOKEN_KIND_UNKNOWN").With("kind", kind).Errorf("unknown token kind")
	}

	now := s.now()
	claims := Claims{
		Kind:  kind,
		Email: subject.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if kind == KindSession {
		claims.UserID = subject.ID.String()
		claims.Name = subject.Name
		claims.Subject = claims.UserID
	} else {
		claims.Subject = subject.Email
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("kind", kind).Wrap(err)
	}
	return signed, nil
}

// Verify checks signature, issuer, expiry and kind. Every refusal carries
// CodeInvalidToken over a *TokenError naming the reason.
func (s *TokenService) Verify(kind TokenKind, token string) (*Claims, error) {
	if err := s.checkSecret(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, invalidToken(kind, TokenMalformed, nil)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, invalidToken(kind, classifyJWTError(err), err)
	}
	if claims.Kind != kind {
		return nil, invalidToken(kind, TokenKindMismatch, nil)
	}
	return claims, nil
}

func classifyJWTError(err error) TokenErrorReason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return TokenSignatureMismatch
	default:
		return TokenMalformed
	}
}

func invalidToken(kind TokenKind, reason TokenErrorReason, cause error) error {
	return oops.Code(CodeInvalidToken).
		With("kind", string(kind)).
		With("reason", reason.String()).
		Wrap(&TokenError{Reason: reason, Err: cause})
}
