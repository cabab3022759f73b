package service

import (
	"context"
	"fmt"

	"github.com/tahiry/fokontany/internal/domain"
)

// NotificationStore defines the notification data access interface consumed
// by NotificationService.
type NotificationStore interface {
	Create(ctx context.Context, n domain.Notification) (*domain.Notification, error)
	ListByRecipient(ctx context.Context, recipientID int64) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id, recipientID int64) (*domain.Notification, error)
}

// NotificationService persists and serves in-app notifications. It holds no
// business logic: who gets notified is decided by the workflow.
type NotificationService struct {
	store NotificationStore
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store NotificationStore) *NotificationService {
	return &NotificationService{store: store}
}

// Notify durably creates one notification row.
func (s *NotificationService) Notify(ctx context.Context, n domain.Notification) error {
	if _, err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("create notification for user %d: %w", n.RecipientID, err)
	}
	return nil
}

// List returns the user's notifications, newest-first.
func (s *NotificationService) List(ctx context.Context, user domain.User) ([]domain.Notification, error) {
	return s.store.ListByRecipient(ctx, user.ID)
}

// MarkRead flips the read flag on one of the user's notifications. Marking
// someone else's notification reports not found rather than leaking its
// existence.
func (s *NotificationService) MarkRead(ctx context.Context, user domain.User, id int64) (*domain.Notification, error) {
	return s.store.MarkRead(ctx, id, user.ID)
}
