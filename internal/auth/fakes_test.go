// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/accountd/internal/auth"
)

// memUsers is an in-memory UserRepository whose Create is insert-if-absent
// under a single lock.
type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*auth.User
	// getErr, when set, is returned by GetByEmail.
	getErr error
	// skipPrecheck makes GetByEmail always miss, so Create is the only guard.
	skipPrecheck bool
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]*auth.User)}
}

func (m *memUsers) Create(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return errors.Join(errors.New("users_email_key"), auth.ErrDuplicate)
	}
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.skipPrecheck {
		return nil, auth.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Search(_ context.Context, query string) ([]*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*auth.User
	for _, u := range m.byEmail {
		if strings.Contains(strings.ToLower(u.Name), strings.ToLower(query)) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memUsers) UpdatePasswordByEmail(_ context.Context, email, hash string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

func (m *memUsers) insert(u *auth.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[u.Email] = u
}

func (m *memUsers) hashOf(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byEmail[email]; ok {
		return u.PasswordHash
	}
	return ""
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byEmail)
}

// memNotifications stores notifications and doubles as the Notifier.
type memNotifications struct {
	mu        sync.Mutex
	items     []*auth.Notification
	notifyErr error
}

func (m *memNotifications) Create(_ context.Context, n *auth.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return nil
}

func (m *memNotifications) ListByUser(_ context.Context, userID ulid.ULID) ([]*auth.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*auth.Notification
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].UserID == userID {
			out = append(out, m.items[i])
		}
	}
	return out, nil
}

func (m *memNotifications) Notify(ctx context.Context, userID ulid.ULID, title, message string) (*auth.Notification, error) {
	if m.notifyErr != nil {
		return nil, m.notifyErr
	}
	n, err := auth.NewNotification(userID, title, message)
	if err != nil {
		return nil, err
	}
	return n, m.Create(ctx, n)
}

func (m *memNotifications) titlesFor(userID ulid.ULID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n.Title)
		}
	}
	return out
}

// memLedger is a ResetLedger backed by a set.
type memLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemLedger() *memLedger {
	return &memLedger{seen: make(map[string]time.Time)}
}

func (l *memLedger) Consume(_ context.Context, tokenID string, expiresAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[tokenID]; ok {
		return auth.ErrTokenConsumed
	}
	l.seen[tokenID] = expiresAt
	return nil
}

// mockMailer is a testify mock of auth.Mailer.
type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) RenderReset(name, resetURL string) (string, error) {
	args := m.Called(name, resetURL)
	return args.String(0), args.Error(1)
}

func (m *mockMailer) Send(ctx context.Context, to, subject, html string) error {
	args := m.Called(ctx, to, subject, html)
	return args.Error(0)
}

// countingRecorder tallies operation outcomes.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordAuthOperation(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[operation+"/"+outcome]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}
