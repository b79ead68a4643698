// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Notification texts for account events.
const (
	TitleWelcome          = "Welcome!"
	MessageWelcome        = "Your account has been created successfully."
	TitleLogin            = "Successfully Login"
	MessageLogin          = "Enjoy your access Web."
	TitlePasswordChanged  = "Password Changed"
	MessagePasswordChange = "Your password has been updated successfully."
)

// Notification is an account event shown to its owner. Immutable once created.
type Notification struct {
	ID        ulid.ULID `json:"id"`
	UserID    ulid.ULID `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification creates a Notification owned by userID.
func NewNotification(userID ulid.ULID, title, message string) (*Notification, error) {
	if userID == (ulid.ULID{}) {
		return nil, oops.Code("NOTIFICATION_INVALID").Errorf("owner cannot be empty")
	}
	if title == "" {
		return nil, oops.Code("NOTIFICATION_INVALID").Errorf("title cannot be empty")
	}
	return &Notification{
		ID:        NewID(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}, nil
}

// NotificationRepository manages notification persistence.
type NotificationRepository interface {
	// Create stores a notification. The owner must exist.
	Create(ctx context.Context, n *Notification) error

	// ListByUser returns the user's notifications, newest first.
	ListByUser(ctx context.Context, userID ulid.ULID) ([]*Notification, error)
}

// Notifier records an account event for a user and publishes it to the
// user's subscribers. Persistence is synchronous; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, userID ulid.ULID, title, message string) (*Notification, error)
}
