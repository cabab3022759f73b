package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tahiry/fokontany/internal/repository"
	"github.com/tahiry/fokontany/internal/service"
)

const defaultDecisionTxTimeout = 5 * time.Second

// workflowPostgresTx runs a review decision inside a single database
// transaction, exposing transaction-bound repositories to the workflow.
type workflowPostgresTx struct {
	db      *sqlx.DB
	timeout time.Duration
}

func newWorkflowPostgresTx(db *sqlx.DB) *workflowPostgresTx {
	return &workflowPostgresTx{db: db, timeout: defaultDecisionTxTimeout}
}

// RunInTx begins a transaction, runs fn against transaction-scoped stores and
// commits. Any error from fn, or from commit, rolls everything back.
func (t *workflowPostgresTx) RunInTx(ctx context.Context, fn func(s service.TxStores) error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stores := service.TxStores{
		Submissions: repository.NewSubmissionRepository(tx),
		Residences:  repository.NewResidenceRepository(tx),
	}
	if err := fn(stores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
