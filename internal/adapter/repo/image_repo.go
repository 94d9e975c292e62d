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

// ImageRepositoryPG stores uploaded originals.
type ImageRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewImageRepository(sql infra.SQLExecutor) *ImageRepositoryPG {
	return &ImageRepositoryPG{sql: sql}
}

func (r *ImageRepositoryPG) Create(ctx context.Context, img *domain.Image) error {
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	return r.sql.QueryRow(ctx, sqlinline.QInsertImage,
		img.ID, img.UserID, img.URL, img.StorageKey, img.MIME, img.Width, img.Height,
	).Scan(&img.CreatedAt)
}

func (r *ImageRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Image, error) {
	var img domain.Image
	err := r.sql.QueryRow(ctx, sqlinline.QSelectImageByID, id).Scan(
		&img.ID, &img.UserID, &img.URL, &img.StorageKey, &img.MIME, &img.Width, &img.Height, &img.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &img, nil
}

var _ domain.ImageRepository = (*ImageRepositoryPG)(nil)
