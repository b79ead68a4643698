// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package telemetry reports unexpected errors to an external error sink.
package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/samber/oops"

	"github.com/holomush/accountd/pkg/errutil"
)

// Reporter sends unexpected errors to an error sink.
type Reporter interface {
	// Report records err with optional string tags.
	Report(ctx context.Context, err error, tags map[string]string)
	// Flush waits up to timeout for buffered reports to be sent.
	Flush(timeout time.Duration) bool
}

// Config configures the Sentry reporter.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// New returns a Sentry reporter, or a no-op reporter when DSN is empty.
func New(cfg Config) (Reporter, error) {
	if cfg.DSN == "" {
		return Nop{}, nil
	}
	return newSentry(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
}

// Nop discards reports.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(context.Context, error, map[string]string) {}

// Flush implements Reporter.
func (Nop) Flush(time.Duration) bool { return true }

// Sentry reports through a dedicated sentry hub rather than the global one.
type Sentry struct {
	hub *sentry.Hub
}

func newSentry(opts sentry.ClientOptions) (*Sentry, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, oops.Code("TELEMETRY_INIT_FAILED").Wrap(err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report implements Reporter. The oops code, when present, becomes the
// "error_code" tag.
func (s *Sentry) Report(_ context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		if code := errutil.Code(err); code != "" {
			scope.SetTag("error_code", code)
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		s.hub.CaptureException(err)
	})
}

// Flush implements Reporter.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
