package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// UserRepositoryPG implements domain.UserRepository backed by PostgreSQL.
type UserRepositoryPG struct {
	sql infra.TxRunner
}

// NewUserRepository creates a new UserRepositoryPG.
func NewUserRepository(sql infra.TxRunner) *UserRepositoryPG {
	return &UserRepositoryPG{sql: sql}
}

// Ensure inserts the user on first sight and grants the signup bonus in the
// same transaction.
func (r *UserRepositoryPG) Ensure(ctx context.Context, id, email string) (*domain.User, bool, error) {
	if id == "" {
		return nil, false, errors.New("user id is required")
	}
	var created bool
	err := r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		tag, err := tx.Exec(ctx, sqlinline.QEnsureUser, id, email)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true
		var balance int
		if err := tx.QueryRow(ctx, sqlinline.QAddCredits, id, domain.SignupBonusCredits).Scan(&balance); err != nil {
			return fmt.Errorf("grant signup bonus: %w", err)
		}
		_, err = tx.Exec(ctx, sqlinline.QInsertCreditTransaction,
			uuid.NewString(), id, domain.SignupBonusCredits, string(domain.TransactionBonus), "Signup bonus", "", "")
		return err
	})
	if err != nil {
		return nil, false, err
	}
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// GetByID fetches a user by id.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.sql.QueryRow(ctx, sqlinline.QSelectUserByID, id))
}

// SetPlan changes the user's plan.
func (r *UserRepositoryPG) SetPlan(ctx context.Context, id string, plan domain.Plan) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QSetUserPlan, id, string(plan))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		plan string
	)
	if err := row.Scan(&u.ID, &u.Email, &plan, &u.Credits, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	u.Plan = domain.ParsePlan(plan)
	return &u, nil
}

var _ domain.UserRepository = (*UserRepositoryPG)(nil)
