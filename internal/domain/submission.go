package domain

import "time"

// SubmissionStatus represents the lifecycle state of a submission. Transitions
// are monotonic: pending may move to approved or rejected, never back.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Submission represents a residence record submitted by an agent and awaiting
// review. Submissions are never deleted; decided ones remain as audit trail.
type Submission struct {
	ID          int64            `json:"id" db:"id"`
	Payload     ResidencePayload `json:"payload" db:"payload"`
	SubmittedBy int64            `json:"submitted_by" db:"submitted_by"`
	Status      SubmissionStatus `json:"status" db:"status"`
	ReviewedBy  *int64           `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewNotes *string          `json:"review_notes,omitempty" db:"review_notes"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}
