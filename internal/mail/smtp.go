// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	gomail "github.com/wneessen/go-mail"
)

// Delivery defaults.
const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 10 * time.Second
	DefaultBackoff        = 200 * time.Millisecond
)

// TLS policies accepted in SMTPConfig.TLS.
const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is one of TLSMandatory, TLSOpportunistic or TLSNone.
	TLS string

	Attempts       int
	AttemptTimeout time.Duration
	Backoff        time.Duration
}

// FailureRecorder counts mail that could not be delivered.
type FailureRecorder interface {
	MailFailed()
}

// dialer is the part of *gomail.Client the sender uses.
type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPSender delivers mail over SMTP, retrying transient failures.
type SMTPSender struct {
	client   dialer
	from     string
	attempts uint64
	timeout  time.Duration
	backoff  time.Duration
	recorder FailureRecorder
	logger   *slog.Logger
}

// NewSMTPSender creates a sender for cfg. No connection is made until Send.
func NewSMTPSender(cfg SMTPConfig, recorder FailureRecorder, logger *slog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mail sender address is required")
	}

	opts := []gomail.Option{
		gomail.WithTimeout(attemptTimeout(cfg)),
		gomail.WithTLSPortPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("host", cfg.Host).Wrap(err)
	}
	return newSMTPSender(client, cfg, recorder, logger), nil
}

func newSMTPSender(client dialer, cfg SMTPConfig, recorder FailureRecorder, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &SMTPSender{
		client:   client,
		from:     cfg.From,
		attempts: uint64(attempts),
		timeout:  attemptTimeout(cfg),
		backoff:  backoff,
		recorder: recorder,
		logger:   logger.With("component", "mail"),
	}
}

func attemptTimeout(cfg SMTPConfig) time.Duration {
	if cfg.AttemptTimeout > 0 {
		return cfg.AttemptTimeout
	}
	return DefaultAttemptTimeout
}

func tlsPolicy(name string) gomail.TLSPolicy {
	switch strings.ToLower(name) {
	case TLSNone:
		return gomail.NoTLS
	case TLSOpportunistic:
		return gomail.TLSOpportunistic
	default:
		return gomail.TLSMandatory
	}
}

// Send delivers an HTML message to one recipient. Each attempt is bounded
// by the attempt timeout; failed attempts are retried with exponential
// backoff.
func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return oops.Code("MAIL_INVALID_ADDRESS").With("from", s.from).Wrap(err)
	}
	if err := msg.To(to); err != nil {
		return oops.Code("MAIL_INVALID_ADDRESS").With("to", to).Wrap(err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, html)

	attempt := 0
	backoff := retry.WithMaxRetries(s.attempts-1, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.client.DialAndSendWithContext(attemptCtx, msg); err != nil {
			s.logger.Debug("mail attempt failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if s.recorder != nil {
			s.recorder.MailFailed()
		}
		return oops.Code("MAIL_SEND_FAILED").
			With("attempts", attempt).
			With("subject", subject).
			Wrap(err)
	}
	return nil
}
