// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"

	"github.com/holomush/accountd/internal/auth"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// Mailer pairs the template renderer with a Sender.
type Mailer struct {
	*Renderer
	Sender
}

var _ auth.Mailer = (*Mailer)(nil)

// NewMailer creates a Mailer delivering through sender.
func NewMailer(sender Sender) (*Mailer, error) {
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	return &Mailer{Renderer: r, Sender: sender}, nil
}
