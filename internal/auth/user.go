// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User is a registered account. PasswordHash never leaves this package's
// callers; use Profile for anything returned to clients.
type User struct {
	ID           ulid.ULID
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the non-secret snapshot of a User embedded in session tokens
// and returned by the API.
type Profile struct {
	ID    ulid.ULID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// NewUser creates a User with a fresh id. The email is kept exactly as
// given: uniqueness is case-sensitive.
func NewUser(name, email, passwordHash string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, oops.Code("USER_INVALID").Errorf("name cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("USER_INVALID").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Profile strips the password hash.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, Email: u.Email}
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create inserts user if no user has the same email. A collision,
	// including one lost to a concurrent insert, returns an error wrapping
	// ErrDuplicate.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by id.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by exact email.
	// Returns an error wrapping ErrNotFound if no user has the email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Search lists users whose name contains query, ignoring case.
	// An empty query lists every user.
	Search(ctx context.Context, query string) ([]*User, error)

	// UpdatePasswordByEmail replaces the password hash of the user with the
	// given email and returns the updated user.
	UpdatePasswordByEmail(ctx context.Context, email, passwordHash string) (*User, error)
}
