package repo

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job    domain.Job
		input  []byte
		output []byte
		status string
		tool   string
		code   string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.EditID,
		&tool,
		&status,
		&input,
		&output,
		&job.ErrorMessage,
		&code,
		&job.ProviderID,
		&job.ProcessingTimeMs,
		&job.CreditsCharged,
		&job.Attempt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.HeartbeatAt,
		&job.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.ToolID = domain.ToolID(tool)
	job.Status = domain.JobStatus(status)
	job.ErrorCode = domain.ErrorCode(code)
	if len(input) > 0 {
		job.InputData = json.RawMessage(input)
	}
	if len(output) > 0 {
		job.OutputData = json.RawMessage(output)
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// transitionError tells a missing job apart from one in the wrong status
// after a guarded update matched nothing.
func transitionError(ctx context.Context, sql infra.SQLExecutor, id string) error {
	var status string
	err := sql.QueryRow(ctx, sqlinline.QSelectJobStatus, id).Scan(&status)
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	return domain.ErrInvalidTransition
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func statusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
