// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify persists account notifications and fans them out to
// connected clients.
package notify

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/accountd/internal/auth"
)

// TopicPrefix starts every per-user topic name.
const TopicPrefix = "user-"

// TopicPattern matches every per-user topic; used for Redis PSUBSCRIBE.
const TopicPattern = TopicPrefix + "*"

// Topic returns the topic a user's events are published on.
func Topic(userID ulid.ULID) string {
	return TopicPrefix + userID.String()
}

// Event carries a stored notification to subscribers of its owner's topic.
type Event struct {
	Topic        string             `json:"topic"`
	Notification *auth.Notification `json:"notification"`
}

// NewEvent wraps n for its owner's topic.
func NewEvent(n *auth.Notification) Event {
	return Event{Topic: Topic(n.UserID), Notification: n}
}

// Sink receives events after they are stored. Deliver should return
// promptly; the emitter bounds it with a timeout.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}
