// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accountd/internal/auth"
)

// NotificationRepository implements auth.NotificationRepository using PostgreSQL.
type NotificationRepository struct {
	pool Pool
}

var _ auth.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(pool Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create stores a notification. The owner must exist.
func (r *NotificationRepository) Create(ctx context.Context, n *auth.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		n.ID.String(),
		n.UserID.String(),
		n.Title,
		n.Message,
		n.CreatedAt,
	)
	if isForeignKeyViolation(err) {
		return oops.Code("NOTIFICATION_OWNER_NOT_FOUND").
			With("user_id", n.UserID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("NOTIFICATION_CREATE_FAILED").
			With("operation", "insert notification").
			With("user_id", n.UserID.String()).
			Wrap(err)
	}
	return nil
}

// ListByUser returns the user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, message, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID.String())
	if err != nil {
		return nil, oops.Code("NOTIFICATION_LIST_FAILED").
			With("operation", "list notifications").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	list := make([]*auth.Notification, 0)
	for rows.Next() {
		var (
			idStr, ownerStr string
			n               auth.Notification
		)
		if err := rows.Scan(&idStr, &ownerStr, &n.Title, &n.Message, &n.CreatedAt); err != nil {
			return nil, oops.Code("NOTIFICATION_LIST_FAILED").
				With("operation", "scan notification row").
				Wrap(err)
		}
		if n.ID, err = ulid.Parse(idStr); err != nil {
			return nil, oops.Code("NOTIFICATION_INVALID_ID").With("id", idStr).Wrap(err)
		}
		if n.UserID, err = ulid.Parse(ownerStr); err != nil {
			return nil, oops.Code("NOTIFICATION_INVALID_ID").With("user_id", ownerStr).Wrap(err)
		}
		list = append(list, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("NOTIFICATION_LIST_FAILED").
			With("operation", "iterate notifications").
			Wrap(err)
	}
	return list, nil
}
