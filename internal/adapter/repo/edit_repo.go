package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// EditRepositoryPG implements domain.EditRepository.
type EditRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewEditRepository(sql infra.SQLExecutor) *EditRepositoryPG {
	return &EditRepositoryPG{sql: sql}
}

func (r *EditRepositoryPG) Create(ctx context.Context, edit *domain.Edit) error {
	if edit.ID == "" {
		edit.ID = uuid.NewString()
	}
	if edit.Status == "" {
		edit.Status = domain.EditStatusPending
	}
	return r.sql.QueryRow(ctx, sqlinline.QInsertEdit,
		edit.ID, edit.UserID, edit.ImageID, string(edit.ToolType), edit.MaskURL, edit.Prompt, string(edit.Status),
	).Scan(&edit.CreatedAt, &edit.UpdatedAt)
}

// GetByID returns the edit joined with its original image URL.
func (r *EditRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Edit, error) {
	var (
		e            domain.Edit
		tool, status string
		code         string
	)
	err := r.sql.QueryRow(ctx, sqlinline.QSelectEditByID, id).Scan(
		&e.ID, &e.UserID, &e.ImageID, &e.ImageURL, &tool, &e.MaskURL, &e.Prompt,
		&status, &e.ResultURL, &e.Error, &code, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	e.ToolType = domain.ToolID(tool)
	e.Status = domain.EditStatus(status)
	e.ErrorCode = domain.ErrorCode(code)
	return &e, nil
}

func (r *EditRepositoryPG) SetStatus(ctx context.Context, id string, status domain.EditStatus) error {
	return r.exec(ctx, sqlinline.QUpdateEditStatus, id, string(status))
}

func (r *EditRepositoryPG) Complete(ctx context.Context, id, resultURL string) error {
	return r.exec(ctx, sqlinline.QCompleteEdit, id, resultURL)
}

func (r *EditRepositoryPG) Fail(ctx context.Context, id, message string, code domain.ErrorCode) error {
	return r.exec(ctx, sqlinline.QFailEdit, id, message, string(code))
}

func (r *EditRepositoryPG) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.sql.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.EditRepository = (*EditRepositoryPG)(nil)
