package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	input := job.InputData
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return r.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		job.EditID,
		string(job.ToolID),
		string(job.Status),
		[]byte(input),
		job.CreditsCharged,
	).Scan(&job.CreatedAt)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, id))
}

// Status reads only the status column; the runner polls it between stages.
func (r *JobRepositoryPG) Status(ctx context.Context, id string) (domain.JobStatus, error) {
	var status string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobStatus, id).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return domain.JobStatus(status), nil
}

// Claim locks the oldest claimable job with SKIP LOCKED so concurrent workers
// never receive the same row.
func (r *JobRepositoryPG) Claim(ctx context.Context) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QClaimJob))
}

// Heartbeat refreshes heartbeat_at for jobs still in processing.
func (r *JobRepositoryPG) Heartbeat(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.sql.Exec(ctx, sqlinline.QHeartbeatJobs, ids)
	return err
}

// Finish records the terminal outcome of a processing job.
func (r *JobRepositoryPG) Finish(ctx context.Context, id string, c domain.JobCompletion) (*domain.Job, error) {
	if !domain.JobStatusProcessing.CanTransitionTo(c.Status) {
		return nil, fmt.Errorf("finish job %s as %s: %w", id, c.Status, domain.ErrInvalidTransition)
	}
	var output []byte
	if c.Output != nil {
		raw, err := json.Marshal(c.Output)
		if err != nil {
			return nil, fmt.Errorf("encode job output: %w", err)
		}
		output = raw
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QFinishJob,
		id,
		string(c.Status),
		nullableBytes(output),
		c.ErrorMessage,
		string(c.ErrorCode),
		c.ProviderID,
		c.ProcessingTimeMs,
	))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, transitionError(ctx, r.sql, id)
	}
	return job, err
}

// Cancel moves a pending, queued or processing job to cancelled.
func (r *JobRepositoryPG) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	sources := statusStrings(domain.SourcesFor(domain.JobStatusCancelled))
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QCancelJob, id, sources))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, transitionError(ctx, r.sql, id)
	}
	return job, err
}

// Retry requeues a failed job. Only the error and timing fields are reset.
func (r *JobRepositoryPG) Retry(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QRetryJob, id))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, transitionError(ctx, r.sql, id)
	}
	return job, err
}

// RequeueOrphaned returns processing jobs whose heartbeat is older than
// staleAfter to the queue.
func (r *JobRepositoryPG) RequeueOrphaned(ctx context.Context, staleAfter time.Duration) ([]domain.Job, error) {
	if staleAfter <= 0 {
		return nil, errors.New("staleAfter must be positive")
	}
	rows, err := r.sql.Query(ctx, sqlinline.QRequeueOrphanedJobs, staleAfter.Seconds())
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// List returns the newest jobs, optionally filtered by status.
func (r *JobRepositoryPG) List(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListJobs, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// Stats groups jobs by status with the mean processing time of done jobs.
func (r *JobRepositoryPG) Stats(ctx context.Context) ([]domain.JobStat, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QJobStats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.JobStat
	for rows.Next() {
		var (
			stat   domain.JobStat
			status string
		)
		if err := rows.Scan(&status, &stat.Count, &stat.AvgProcessingTimeMs); err != nil {
			return nil, err
		}
		stat.Status = domain.JobStatus(status)
		out = append(out, stat)
	}
	return out, rows.Err()
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
