package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tahiry/fokontany/internal/domain"
)

const notificationColumns = `id, type, title, message, recipient_id, sender_id, related_entity_id, status, is_read, created_at`

// NotificationRepository handles notification data access operations.
type NotificationRepository struct {
	db sqlx.ExtContext
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db sqlx.ExtContext) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a new notification.
func (r *NotificationRepository) Create(ctx context.Context, n domain.Notification) (*domain.Notification, error) {
	var result domain.Notification
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO notifications (type, title, message, recipient_id, sender_id, related_entity_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+notificationColumns,
		n.Type, n.Title, n.Message, n.RecipientID, n.SenderID, n.RelatedEntityID, n.Status,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return &result, nil
}

// ListByRecipient retrieves a user's notifications, newest-first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID int64) ([]domain.Notification, error) {
	var notifications []domain.Notification
	err := sqlx.SelectContext(ctx, r.db, &notifications,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE recipient_id = $1
		 ORDER BY created_at DESC`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list notifications for user %d: %w", recipientID, err)
	}
	return notifications, nil
}

// MarkRead flips the read flag of a notification. The recipient id is part of
// the predicate so a user can only mark their own notifications.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID int64) (*domain.Notification, error) {
	var result domain.Notification
	err := r.db.QueryRowxContext(ctx,
		`UPDATE notifications SET is_read = TRUE
		 WHERE id = $1 AND recipient_id = $2
		 RETURNING `+notificationColumns,
		id, recipientID,
	).StructScan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("mark notification %d read: %w", id, err)
	}
	return &result, nil
}
