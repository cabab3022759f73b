package domain

import "time"

// NotificationType represents the kind of notification.
type NotificationType string

const (
	NotificationResidenceApproval NotificationType = "residence_approval"
)

// Notification represents an in-app notification for a user. Rows are
// append-only; is_read is the only field mutated after creation, and only by
// the recipient.
type Notification struct {
	ID              int64            `json:"id" db:"id"`
	Type            NotificationType `json:"type" db:"type"`
	Title           string           `json:"title" db:"title"`
	Message         string           `json:"message" db:"message"`
	RecipientID     int64            `json:"recipient_id" db:"recipient_id"`
	SenderID        *int64           `json:"sender_id,omitempty" db:"sender_id"`
	RelatedEntityID int64            `json:"related_entity_id" db:"related_entity_id"`
	Status          SubmissionStatus `json:"status" db:"status"`
	IsRead          bool             `json:"is_read" db:"is_read"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}
