package repo

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// AuditRepositoryPG appends operator actions to audit_logs.
type AuditRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewAuditRepository(sql infra.SQLExecutor) *AuditRepositoryPG {
	return &AuditRepositoryPG{sql: sql}
}

func (r *AuditRepositoryPG) Record(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return err
	}
	return r.sql.QueryRow(ctx, sqlinline.QInsertAuditLog,
		entry.ID, entry.Actor, entry.Action, entry.Entity, entry.EntityID, entry.IP, entry.Country, raw,
	).Scan(&entry.CreatedAt)
}

var _ domain.AuditRepository = (*AuditRepositoryPG)(nil)
