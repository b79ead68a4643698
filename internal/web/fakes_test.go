// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/accountd/internal/auth"
)

var errNotStubbed = errors.New("not stubbed")

// fakeAccounts answers each call with the matching func field, failing when
// the field is unset.
type fakeAccounts struct {
	register          func(auth.RegisterInput) (*auth.Profile, error)
	login             func(email, password string) (*auth.Session, error)
	authenticate      func(token string) (*auth.Profile, error)
	forgotPassword    func(email, resetLink string) error
	resetPassword     func(auth.ResetPasswordInput) (*auth.Profile, error)
	listUsers         func(search string) ([]auth.Profile, error)
	listNotifications func(userID ulid.ULID) ([]*auth.Notification, error)
}

var _ Accounts = (*fakeAccounts)(nil)

func (f *fakeAccounts) Register(_ context.Context, in auth.RegisterInput) (*auth.Profile, error) {
	if f.register == nil {
		return nil, errNotStubbed
	}
	return f.register(in)
}

func (f *fakeAccounts) Login(_ context.Context, email, password string) (*auth.Session, error) {
	if f.login == nil {
		return nil, errNotStubbed
	}
	return f.login(email, password)
}

func (f *fakeAccounts) Authenticate(_ context.Context, token string) (*auth.Profile, error) {
	if f.authenticate == nil {
		return nil, errNotStubbed
	}
	return f.authenticate(token)
}

func (f *fakeAccounts) ForgotPassword(_ context.Context, email, resetLink string) error {
	if f.forgotPassword == nil {
		return errNotStubbed
	}
	return f.forgotPassword(email, resetLink)
}

func (f *fakeAccounts) ResetPassword(_ context.Context, in auth.ResetPasswordInput) (*auth.Profile, error) {
	if f.resetPassword == nil {
		return nil, errNotStubbed
	}
	return f.resetPassword(in)
}

func (f *fakeAccounts) ListUsers(_ context.Context, search string) ([]auth.Profile, error) {
	if f.listUsers == nil {
		return nil, errNotStubbed
	}
	return f.listUsers(search)
}

func (f *fakeAccounts) ListNotifications(_ context.Context, userID ulid.ULID) ([]*auth.Notification, error) {
	if f.listNotifications == nil {
		return nil, errNotStubbed
	}
	return f.listNotifications(userID)
}

// recordingReporter keeps every reported error.
type recordingReporter struct {
	mu     sync.Mutex
	errors []error
	tags   []map[string]string
}

func (r *recordingReporter) Report(_ context.Context, err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.tags = append(r.tags, tags)
}

func (r *recordingReporter) Flush(time.Duration) bool { return true }

func (r *recordingReporter) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// recordingMetrics keeps every recorded request.
type recordingMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	route  string
	method string
	status int
}

func (m *recordingMetrics) RecordHTTPRequest(route, method string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{route: route, method: method, status: status})
}

func (m *recordingMetrics) recorded() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

// stubLimiter returns a fixed decision.
type stubLimiter struct {
	decision Decision
	err      error
	keys     []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.keys = append(l.keys, key)
	return l.decision, l.err
}
