package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// EditSubmitterPG claims the edit, charges the user and inserts the job in a
// single transaction.
type EditSubmitterPG struct {
	sql infra.TxRunner
}

func NewEditSubmitter(sql infra.TxRunner) *EditSubmitterPG {
	return &EditSubmitterPG{sql: sql}
}

func (s *EditSubmitterPG) Submit(ctx context.Context, job *domain.Job, description string) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobStatusPending
	input := job.InputData
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	err := s.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var editID string
		if err := tx.QueryRow(ctx, sqlinline.QClaimEditForProcessing, job.EditID).Scan(&editID); err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrInvalidTransition
			}
			return err
		}
		if job.CreditsCharged > 0 {
			var balance int
			if err := tx.QueryRow(ctx, sqlinline.QDeductCredits, job.UserID, job.CreditsCharged).Scan(&balance); err != nil {
				if infra.IsNoRows(err) {
					return domain.ErrInsufficientCredits
				}
				return err
			}
			if _, err := tx.Exec(ctx, sqlinline.QInsertCreditTransaction,
				uuid.NewString(), job.UserID, -job.CreditsCharged, string(domain.TransactionUsage), description, job.EditID, job.ID); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx, sqlinline.QInsertJob,
			job.ID,
			job.UserID,
			job.EditID,
			string(job.ToolID),
			string(job.Status),
			[]byte(input),
			job.CreditsCharged,
		).Scan(&job.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("submit edit %s: %w", job.EditID, err)
	}
	return nil
}

var _ domain.EditSubmitter = (*EditSubmitterPG)(nil)
