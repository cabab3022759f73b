package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tahiry/fokontany/internal/domain"
)

const submissionColumns = `id, payload, submitted_by, status, reviewed_by, review_notes, created_at, updated_at`

// SubmissionRepository handles submission data access operations. It works
// over either the connection pool or a transaction.
type SubmissionRepository struct {
	db sqlx.ExtContext
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(db sqlx.ExtContext) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a new pending submission.
func (r *SubmissionRepository) Create(ctx context.Context, sub domain.Submission) (*domain.Submission, error) {
	var result domain.Submission
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO submissions (payload, submitted_by, status)
		 VALUES ($1, $2, $3)
		 RETURNING `+submissionColumns,
		sub.Payload, sub.SubmittedBy, domain.SubmissionPending,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	return &result, nil
}

// FindByID retrieves a submission by its ID.
func (r *SubmissionRepository) FindByID(ctx context.Context, id int64) (*domain.Submission, error) {
	var sub domain.Submission
	err := sqlx.GetContext(ctx, r.db, &sub,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find submission by id %d: %w", id, err)
	}
	return &sub, nil
}

// FindByIDForUpdate retrieves a submission and takes a row-level lock on it.
// Must run inside a transaction; of two concurrent reviewers, the second
// blocks here until the first commits.
func (r *SubmissionRepository) FindByIDForUpdate(ctx context.Context, id int64) (*domain.Submission, error) {
	var sub domain.Submission
	err := sqlx.GetContext(ctx, r.db, &sub,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("lock submission %d: %w", id, err)
	}
	return &sub, nil
}

// ListPending retrieves pending submissions newest-first. A nil zoneID means
// no zone scoping (admin); otherwise only submissions whose submitter belongs
// to the zone are returned.
func (r *SubmissionRepository) ListPending(ctx context.Context, zoneID *int64) ([]domain.Submission, error) {
	query := `SELECT s.id, s.payload, s.submitted_by, s.status, s.reviewed_by, s.review_notes,
	                 s.created_at, s.updated_at
	          FROM submissions s`
	args := []any{domain.SubmissionPending}
	if zoneID != nil {
		query += `
	          JOIN users u ON u.id = s.submitted_by
	          WHERE s.status = $1 AND u.home_zone_id = $2`
		args = append(args, *zoneID)
	} else {
		query += `
	          WHERE s.status = $1`
	}
	query += `
	          ORDER BY s.created_at DESC`

	var subs []domain.Submission
	if err := sqlx.SelectContext(ctx, r.db, &subs, query, args...); err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	return subs, nil
}

// ListBySubmitter retrieves all submissions created by a user, newest-first.
func (r *SubmissionRepository) ListBySubmitter(ctx context.Context, userID int64) ([]domain.Submission, error) {
	var subs []domain.Submission
	err := sqlx.SelectContext(ctx, r.db, &subs,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE submitted_by = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list submissions for user %d: %w", userID, err)
	}
	return subs, nil
}

// MarkReviewed records the terminal decision on a submission.
func (r *SubmissionRepository) MarkReviewed(ctx context.Context, id int64, status domain.SubmissionStatus, reviewerID int64, notes string) (*domain.Submission, error) {
	var result domain.Submission
	err := r.db.QueryRowxContext(ctx,
		`UPDATE submissions
		 SET status = $2, reviewed_by = $3, review_notes = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+submissionColumns,
		id, status, reviewerID, notes,
	).StructScan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("mark submission %d reviewed: %w", id, err)
	}
	return &result, nil
}
