package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tahiry/fokontany/internal/domain"
)

// UserStore defines the user data access interface consumed by WorkflowService.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindActiveSecretariesByZone(ctx context.Context, zoneID int64) ([]domain.User, error)
}

// SubmissionStore defines submission data access outside a transaction.
type SubmissionStore interface {
	Create(ctx context.Context, sub domain.Submission) (*domain.Submission, error)
	FindByID(ctx context.Context, id int64) (*domain.Submission, error)
	ListPending(ctx context.Context, zoneID *int64) ([]domain.Submission, error)
	ListBySubmitter(ctx context.Context, userID int64) ([]domain.Submission, error)
}

// ResidenceStore defines registry record data access.
type ResidenceStore interface {
	Create(ctx context.Context, res domain.Residence) (*domain.Residence, error)
}

// SubmissionTxStore is the submission access available inside a decision
// transaction.
type SubmissionTxStore interface {
	FindByIDForUpdate(ctx context.Context, id int64) (*domain.Submission, error)
	MarkReviewed(ctx context.Context, id int64, status domain.SubmissionStatus, reviewerID int64, notes string) (*domain.Submission, error)
}

// TxStores gives access to the stores bound to one transaction.
type TxStores struct {
	Submissions SubmissionTxStore
	Residences  ResidenceStore
}

// WorkflowTx provides the atomic boundary for a review decision: fn either
// commits as a whole or leaves no trace.
type WorkflowTx interface {
	RunInTx(ctx context.Context, fn func(s TxStores) error) error
}

// Notifier creates a single notification row. Recipient selection stays in
// the workflow; the notifier only persists.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Decision is a reviewer's verdict on a submission.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// SubmitResult is the outcome of a residence submission. Exactly one of
// Residence and Submission is set: trusted roles write to the registry
// directly, agents go through review.
type SubmitResult struct {
	Residence   *domain.Residence  `json:"residence,omitempty"`
	Submission  *domain.Submission `json:"submission,omitempty"`
	NeedsReview bool               `json:"needs_review"`
}

// DecisionResult is the outcome of a review decision. Residence is set only
// on approval.
type DecisionResult struct {
	Submission *domain.Submission `json:"submission"`
	Residence  *domain.Residence  `json:"residence,omitempty"`
}

// WorkflowService orchestrates the residence submission and approval
// lifecycle across the submission, registry and notification stores.
type WorkflowService struct {
	users       UserStore
	submissions SubmissionStore
	residences  ResidenceStore
	tx          WorkflowTx
	notifier    Notifier
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(users UserStore, submissions SubmissionStore, residences ResidenceStore, tx WorkflowTx, notifier Notifier) *WorkflowService {
	return &WorkflowService{
		users:       users,
		submissions: submissions,
		residences:  residences,
		tx:          tx,
		notifier:    notifier,
	}
}

// Submit records a new residence. Secretaries and admins write to the
// registry directly; an agent's payload is held as a pending submission and
// the agent's zone secretaries are notified.
func (s *WorkflowService) Submit(ctx context.Context, submitter domain.User, payload domain.ResidencePayload) (*SubmitResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	if submitter.IsReviewer() {
		res, err := s.residences.Create(ctx, residenceFromPayload(payload, submitter.ID))
		if err != nil {
			return nil, fmt.Errorf("direct residence write: %w", err)
		}
		return &SubmitResult{Residence: res}, nil
	}

	sub, err := s.submissions.Create(ctx, domain.Submission{
		Payload:     payload,
		SubmittedBy: submitter.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	s.notifyReviewers(ctx, submitter, sub)

	return &SubmitResult{Submission: sub, NeedsReview: true}, nil
}

// notifyReviewers fans out a pending notification to every active secretary
// of the submitter's zone. An empty reviewer set is legal: the submission
// stays pending until an admin picks it up. Failures are logged, never fatal.
func (s *WorkflowService) notifyReviewers(ctx context.Context, submitter domain.User, sub *domain.Submission) {
	if submitter.HomeZoneID == nil {
		return
	}

	reviewers, err := s.users.FindActiveSecretariesByZone(ctx, *submitter.HomeZoneID)
	if err != nil {
		slog.Error("resolve reviewers failed", "submission_id", sub.ID, "error", err)
		return
	}

	for _, reviewer := range reviewers {
		n := domain.Notification{
			Type:            domain.NotificationResidenceApproval,
			Title:           "New residence submission",
			Message:         fmt.Sprintf("%s submitted lot %s for review", submitter.DisplayName, sub.Payload.Lot),
			RecipientID:     reviewer.ID,
			SenderID:        &submitter.ID,
			RelatedEntityID: sub.ID,
			Status:          domain.SubmissionPending,
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			slog.Error("notify reviewer failed",
				"submission_id", sub.ID, "recipient_id", reviewer.ID, "error", err)
		}
	}
}

// ListPending returns the pending submissions the reviewer is allowed to see:
// all of them for an admin, the home zone's for a secretary.
func (s *WorkflowService) ListPending(ctx context.Context, reviewer domain.User) ([]domain.Submission, error) {
	if !reviewer.IsReviewer() {
		return nil, domain.ErrForbidden
	}

	if reviewer.Role == domain.RoleAdmin {
		return s.submissions.ListPending(ctx, nil)
	}

	// A secretary without a home zone has nothing in scope.
	if reviewer.HomeZoneID == nil {
		return []domain.Submission{}, nil
	}
	return s.submissions.ListPending(ctx, reviewer.HomeZoneID)
}

// ListMine returns all submissions created by the user, newest-first.
func (s *WorkflowService) ListMine(ctx context.Context, user domain.User) ([]domain.Submission, error) {
	return s.submissions.ListBySubmitter(ctx, user.ID)
}

// Decide applies a reviewer's verdict to a pending submission. Approval
// materializes the payload into the registry and marks the submission
// approved in one transaction; rejection requires non-empty notes. In either
// case the submitter is notified best-effort after commit.
func (s *WorkflowService) Decide(ctx context.Context, reviewer domain.User, submissionID int64, decision Decision, notes string) (*DecisionResult, error) {
	if !reviewer.IsReviewer() {
		return nil, domain.ErrForbidden
	}

	switch decision {
	case DecisionApprove:
	case DecisionReject:
		if notes == "" {
			return nil, &domain.ValidationError{Field: "notes", Message: "a rejection requires a reason"}
		}
	default:
		return nil, &domain.ValidationError{Field: "decision", Message: "must be approve or reject"}
	}

	sub, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	submitter, err := s.users.FindByID(ctx, sub.SubmittedBy)
	if err != nil {
		return nil, fmt.Errorf("load submitter %d: %w", sub.SubmittedBy, err)
	}

	if !reviewer.CanReview(submitter.HomeZoneID) {
		return nil, domain.ErrForbidden
	}

	var (
		updated   *domain.Submission
		residence *domain.Residence
	)
	err = s.tx.RunInTx(ctx, func(stores TxStores) error {
		locked, err := stores.Submissions.FindByIDForUpdate(ctx, submissionID)
		if err != nil {
			return err
		}
		if locked.Status != domain.SubmissionPending {
			return errAlreadyDecided(locked.Status)
		}

		if decision == DecisionApprove {
			residence, err = stores.Residences.Create(ctx, residenceFromPayload(locked.Payload, locked.SubmittedBy))
			if err != nil {
				return fmt.Errorf("materialize residence: %w", err)
			}
			updated, err = stores.Submissions.MarkReviewed(ctx, submissionID, domain.SubmissionApproved, reviewer.ID, notes)
		} else {
			updated, err = stores.Submissions.MarkReviewed(ctx, submissionID, domain.SubmissionRejected, reviewer.ID, notes)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifySubmitter(ctx, reviewer, updated, residence, notes)

	return &DecisionResult{Submission: updated, Residence: residence}, nil
}

// notifySubmitter tells the original submitter about the verdict. Runs after
// commit; a failure here must not void the decision, so it is only logged.
func (s *WorkflowService) notifySubmitter(ctx context.Context, reviewer domain.User, sub *domain.Submission, residence *domain.Residence, notes string) {
	n := domain.Notification{
		Type:            domain.NotificationResidenceApproval,
		RecipientID:     sub.SubmittedBy,
		SenderID:        &reviewer.ID,
		RelatedEntityID: sub.ID,
		Status:          sub.Status,
	}
	if sub.Status == domain.SubmissionApproved {
		n.Title = "Residence submission approved"
		n.Message = fmt.Sprintf("Your submission for lot %s was approved", sub.Payload.Lot)
		n.RelatedEntityID = residence.ID
	} else {
		n.Title = "Residence submission rejected"
		n.Message = fmt.Sprintf("Your submission for lot %s was rejected: %s", sub.Payload.Lot, notes)
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		slog.Error("notify submitter failed",
			"submission_id", sub.ID, "recipient_id", sub.SubmittedBy, "error", err)
	}
}

func errAlreadyDecided(status domain.SubmissionStatus) error {
	return fmt.Errorf("%w: submission already %s", domain.ErrConflict, status)
}

func residenceFromPayload(p domain.ResidencePayload, createdBy int64) domain.Residence {
	return domain.Residence{
		Lot:         p.Lot,
		ZoneID:      p.ZoneID,
		Address:     p.Address,
		Description: p.Description,
		Lat:         p.Lat,
		Lng:         p.Lng,
		CreatedBy:   createdBy,
	}
}
