// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/accountd/pkg/errutil"
)

// ResetMailSubject is the subject line of password-reset mail.
const ResetMailSubject = "Email Forget Password"

// Mailer renders and delivers password-reset mail.
type Mailer interface {
	// RenderReset returns the HTML body of a reset mail.
	RenderReset(name, resetURL string) (string, error)

	// Send delivers an HTML message.
	Send(ctx context.Context, to, subject, html string) error
}

// OperationRecorder counts flow outcomes. Outcome is "success" or the
// error code of the failure.
type OperationRecorder interface {
	RecordAuthOperation(operation, outcome string)
}

// ServiceDeps are the collaborators of a Service. Logger, Recorder and
// Tracer are optional.
type ServiceDeps struct {
	Users         UserRepository
	Notifications NotificationRepository
	Hasher        PasswordHasher
	Tokens        TokenSigner
	Ledger        ResetLedger
	Notifier      Notifier
	Mailer        Mailer
	Logger        *slog.Logger
	Recorder      OperationRecorder
	Tracer        trace.Tracer
}

// Service runs the account flows.
type Service struct {
	users         UserRepository
	notifications NotificationRepository
	hasher        PasswordHasher
	tokens        TokenSigner
	ledger        ResetLedger
	notifier      Notifier
	mailer        Mailer
	logger        *slog.Logger
	recorder      OperationRecorder
	tracer        trace.Tracer
	validate      *validator.Validate
	dummyHash     func() (string, error)
}

// NewService creates a Service, checking that every required dependency is set.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	case deps.Notifications == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("notifications repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token signer is required")
	case deps.Ledger == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("reset ledger is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("notifier is required")
	case deps.Mailer == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("mailer is required")
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/holomush/accountd/internal/auth")
	}

	hasher := deps.Hasher
	return &Service{
		users:         deps.Users,
		notifications: deps.Notifications,
		hasher:        hasher,
		tokens:        deps.Tokens,
		ledger:        deps.Ledger,
		notifier:      deps.Notifier,
		mailer:        deps.Mailer,
		logger:        deps.Logger.With("component", "auth"),
		recorder:      deps.Recorder,
		tracer:        deps.Tracer,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		// Unknown emails are verified against this digest so login time
		// does not depend on whether the account exists.
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash("accountd-unknown-account")
		}),
	}, nil
}

// start opens a span for a flow; the returned func closes it and records
// the outcome.
func (s *Service) start(ctx context.Context, operation string) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "auth."+operation)
	return ctx, func(errp *error) {
		outcome := "success"
		if err := *errp; err != nil {
			outcome = errutil.Code(err)
			if outcome == "" {
				outcome = "error"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		span.End()
		if s.recorder != nil {
			s.recorder.RecordAuthOperation(operation, outcome)
		}
	}
}

// notify persists and publishes an account event. The credential change it
// reports is already durable, so a failure is logged rather than returned.
func (s *Service) notify(ctx context.Context, userID ulid.ULID, title, message string) {
	if _, err := s.notifier.Notify(ctx, userID, title, message); err != nil {
		errutil.LogError(s.logger, "failed to record notification", err,
			"user_id", userID.String(),
			"title", title)
	}
}

// RegisterInput holds the registration form.
type RegisterInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register creates an account and returns its profile.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *Profile, err error) {
	ctx, finish := s.start(ctx, "register")
	defer finish(&err)

	if vErr := s.validate.Struct(in); vErr != nil {
		return nil, oops.Code(CodeInputRequired).
			With("fields", invalidFields(vErr)).
			Errorf("input must be required")
	}

	// Advisory only; Create is the authority under concurrency.
	if _, lookupErr := s.users.GetByEmail(ctx, in.Email); lookupErr == nil {
		return nil, emailTaken(in.Email)
	} else if !errors.Is(lookupErr, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(lookupErr)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(in.Name, in.Email, digest)
	if err != nil {
		return nil, oops.Code(CodeInputRequired).Errorf("input must be required")
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, emailTaken(in.Email)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.notify(ctx, user.ID, TitleWelcome, MessageWelcome)
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())

	profile := user.Profile()
	return &profile, nil
}

func emailTaken(email string) error {
	return oops.Code(CodeEmailTaken).With("email", email).Wrap(ErrDuplicate)
}

func invalidFields(err error) []string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return nil
	}
	fields := make([]string, 0, len(vErrs))
	for _, fe := range vErrs {
		fields = append(fields, fe.Field())
	}
	return fields
}

// Session is a successful login: the profile and its bearer token.
type Session struct {
	Profile
	Token string `json:"token"`
}

// Login checks credentials and issues a session token. Unknown email and
// wrong password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (_ *Session, err error) {
	ctx, finish := s.start(ctx, "login")
	defer finish(&err)

	invalid := oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")

	var user *User
	if email != "" {
		var lookupErr error
		user, lookupErr = s.users.GetByEmail(ctx, email)
		if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	}

	if user == nil {
		if dummy, hashErr := s.dummyHash(); hashErr == nil {
			_, _ = s.hasher.Verify(password, dummy) //nolint:errcheck // timing only
		}
		return nil, invalid
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, oops.With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !valid {
		return nil, invalid
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	profile := user.Profile()
	token, err := s.tokens.Issue(KindSession, profile)
	if err != nil {
		return nil, oops.With("operation", "issue session token").Wrap(err)
	}

	s.notify(ctx, user.ID, TitleLogin, MessageLogin)

	return &Session{Profile: profile, Token: token}, nil
}

// upgradeHash rehashes with the current cost. Best effort: login succeeds
// regardless.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return
	}
	if _, err := s.users.UpdatePasswordByEmail(ctx, user.Email, digest); err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed",
			"user_id", user.ID.String(),
			"error", err)
	}
}

// Authenticate verifies a session token and returns the profile it carries.
// Session tokens are stateless; nothing is read from storage.
func (s *Service) Authenticate(ctx context.Context, token string) (_ *Profile, err error) {
	_, finish := s.start(ctx, "authenticate")
	defer finish(&err)

	claims, err := s.tokens.Verify(KindSession, token)
	if err != nil {
		return nil, err
	}
	profile, err := claims.Profile()
	if err != nil {
		return nil, invalidToken(KindSession, TokenMalformed, err)
	}
	return &profile, nil
}

// ForgotPassword mails a reset link for email. resetLink is the absolute URL
// of the reset endpoint; the token is added as its "token" query parameter.
// Delivery failures are logged and do not fail the call.
func (s *Service) ForgotPassword(ctx context.Context, email, resetLink string) (err error) {
	ctx, finish := s.start(ctx, "forgot_password")
	defer finish(&err)

	if email == "" {
		return oops.Code(CodeInputRequired).Errorf("input must be required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeUserNotFound).With("email", email).Errorf("user not found")
	}
	if err != nil {
		return oops.Code("AUTH_FORGOT_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, err := s.tokens.Issue(KindReset, user.Profile())
	if err != nil {
		return oops.With("operation", "issue reset token").Wrap(err)
	}

	link, err := withToken(resetLink, token)
	if err != nil {
		return oops.Code("AUTH_FORGOT_FAILED").
			With("operation", "build reset link").
			With("reset_link", resetLink).
			Wrap(err)
	}

	body, err := s.mailer.RenderReset(user.Name, link)
	if err != nil {
		return oops.Code("AUTH_FORGOT_FAILED").
			With("operation", "render reset mail").
			Wrap(err)
	}

	if sendErr := s.mailer.Send(ctx, user.Email, ResetMailSubject, body); sendErr != nil {
		errutil.LogError(s.logger, "failed to send reset mail", sendErr,
			"user_id", user.ID.String())
	}
	return nil
}

func withToken(link, token string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err //nolint:wrapcheck // wrapped by caller
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResetPasswordInput holds the reset form and the token from the link.
type ResetPasswordInput struct {
	Token                string `json:"-"`
	Password             string `json:"password" validate:"required"`
	PasswordConfirmation string `json:"passwordConfirmation" validate:"required"`
}

// ResetPassword redeems a reset token and sets a new password. Each token
// works once.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (_ *Profile, err error) {
	ctx, finish := s.start(ctx, "reset_password")
	defer finish(&err)

	if vErr := s.validate.Struct(in); vErr != nil {
		return nil, oops.Code(CodeResetRequired).
			With("fields", invalidFields(vErr)).
			Errorf("both password and password confirmation are required")
	}
	if in.Password != in.PasswordConfirmation {
		return nil, oops.Code(CodeResetMismatch).Errorf("password and password confirmation do not match")
	}

	claims, err := s.tokens.Verify(KindReset, in.Token)
	if err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.With("operation", "hash password").Wrap(err)
	}

	if err := s.ledger.Consume(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, ErrTokenConsumed) {
			return nil, invalidToken(KindReset, TokenReplayed, ErrTokenConsumed)
		}
		return nil, oops.Code("AUTH_RESET_FAILED").
			With("operation", "consume reset token").
			Wrap(err)
	}

	user, err := s.users.UpdatePasswordByEmail(ctx, claims.Email, digest)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeUserNotFound).With("email", claims.Email).Errorf("user not found")
	}
	if err != nil {
		return nil, oops.Code("AUTH_RESET_FAILED").
			With("operation", "update password").
			Wrap(err)
	}

	s.notify(ctx, user.ID, TitlePasswordChanged, MessagePasswordChange)
	s.logger.InfoContext(ctx, "password reset", "user_id", user.ID.String())

	profile := user.Profile()
	return &profile, nil
}

// ListUsers returns profiles whose name contains search, ignoring case.
func (s *Service) ListUsers(ctx context.Context, search string) (_ []Profile, err error) {
	ctx, finish := s.start(ctx, "list_users")
	defer finish(&err)

	users, err := s.users.Search(ctx, search)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_USERS_FAILED").With("search", search).Wrap(err)
	}
	profiles := make([]Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	return profiles, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID ulid.ULID) (_ []*Notification, err error) {
	ctx, finish := s.start(ctx, "list_notifications")
	defer finish(&err)

	list, err := s.notifications.ListByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_NOTIFICATIONS_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return list, nil
}
