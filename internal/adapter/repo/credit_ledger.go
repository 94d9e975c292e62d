package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

const defaultHistoryLimit = 50

// CreditLedgerPG keeps users.credits and credit_transactions in step. Every
// balance change and its log row share one transaction.
type CreditLedgerPG struct {
	sql infra.TxRunner
}

func NewCreditLedger(sql infra.TxRunner) *CreditLedgerPG {
	return &CreditLedgerPG{sql: sql}
}

// Deduct subtracts amount when the balance covers it. A short balance
// returns false and writes nothing.
func (l *CreditLedgerPG) Deduct(ctx context.Context, userID string, amount int, description, editID string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("deduct: amount must be positive, got %d", amount)
	}
	var ok bool
	err := l.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var balance int
		if err := tx.QueryRow(ctx, sqlinline.QDeductCredits, userID, amount).Scan(&balance); err != nil {
			if infra.IsNoRows(err) {
				return nil
			}
			return err
		}
		if _, err := tx.Exec(ctx, sqlinline.QInsertCreditTransaction,
			uuid.NewString(), userID, -amount, string(domain.TransactionUsage), description, editID, ""); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("deduct credits: %w", err)
	}
	return ok, nil
}

// Add credits the user and logs a transaction of typ.
func (l *CreditLedgerPG) Add(ctx context.Context, userID string, amount int, typ domain.TransactionType, description string) error {
	if amount <= 0 {
		return fmt.Errorf("add: amount must be positive, got %d", amount)
	}
	if !typ.Valid() || typ == domain.TransactionUsage {
		return fmt.Errorf("add: unsupported transaction type %q", typ)
	}
	err := l.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var balance int
		if err := tx.QueryRow(ctx, sqlinline.QAddCredits, userID, amount).Scan(&balance); err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrNotFound
			}
			return err
		}
		_, err := tx.Exec(ctx, sqlinline.QInsertCreditTransaction,
			uuid.NewString(), userID, amount, string(typ), description, "", "")
		return err
	})
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}

// Refund returns the job's charge. The unique refund index on (job_id,
// attempt) makes repeated calls no-ops, so concurrent failure paths cannot
// double-refund one attempt.
func (l *CreditLedgerPG) Refund(ctx context.Context, job *domain.Job, description string) (bool, error) {
	if job == nil || job.CreditsCharged <= 0 {
		return false, nil
	}
	var refunded bool
	err := l.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var id string
		err := tx.QueryRow(ctx, sqlinline.QInsertRefundOnce,
			uuid.NewString(), job.UserID, job.CreditsCharged, description, job.EditID, job.ID, job.Attempt,
		).Scan(&id)
		if err != nil {
			if infra.IsNoRows(err) {
				return nil
			}
			return err
		}
		var balance int
		if err := tx.QueryRow(ctx, sqlinline.QAddCredits, job.UserID, job.CreditsCharged).Scan(&balance); err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrNotFound
			}
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	return refunded, nil
}

// Recharge takes the charge again for a failed job that is about to be
// retried, but only when the failed attempt was refunded. It returns false
// when nothing was owed and ErrInsufficientCredits when the balance is short.
func (l *CreditLedgerPG) Recharge(ctx context.Context, job *domain.Job, description string) (bool, error) {
	if job == nil || job.CreditsCharged <= 0 {
		return false, nil
	}
	var charged bool
	err := l.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var refunded bool
		if err := tx.QueryRow(ctx, sqlinline.QSelectRefundExists, job.ID, job.Attempt).Scan(&refunded); err != nil {
			return err
		}
		if !refunded {
			return nil
		}
		var balance int
		if err := tx.QueryRow(ctx, sqlinline.QDeductCredits, job.UserID, job.CreditsCharged).Scan(&balance); err != nil {
			if infra.IsNoRows(err) {
				return domain.ErrInsufficientCredits
			}
			return err
		}
		if _, err := tx.Exec(ctx, sqlinline.QInsertRetryCharge,
			uuid.NewString(), job.UserID, -job.CreditsCharged, description, job.EditID, job.ID, job.Attempt+1); err != nil {
			return err
		}
		charged = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("recharge job %s: %w", job.ID, err)
	}
	return charged, nil
}

func (l *CreditLedgerPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectCreditBalance, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (l *CreditLedgerPG) History(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := l.sql.Query(ctx, sqlinline.QListCreditTransactions, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CreditTransaction
	for rows.Next() {
		var (
			tx  domain.CreditTransaction
			typ string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &typ, &tx.Description, &tx.EditID, &tx.JobID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = domain.TransactionType(typ)
		out = append(out, tx)
	}
	return out, rows.Err()
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
