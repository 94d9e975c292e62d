package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/pipeline"
	"retouch/internal/providers"
)

// StatusCache mirrors edit rows for pollers. cache.EditStatuses satisfies it.
type StatusCache interface {
	Put(ctx context.Context, edit *domain.Edit) error
	Forget(ctx context.Context, editID string) error
}

// Settler writes the terminal bookkeeping of a job: the job row, the edit it
// serves, the refund decision and the status cache.
type Settler struct {
	Jobs   domain.JobRepository
	Edits  domain.EditRepository
	Ledger domain.CreditLedger
	Cache  StatusCache
	Policy domain.RefundPolicy
	Logger *infra.Logger
}

func (s *Settler) logger() *infra.Logger {
	if s.Logger == nil {
		return infra.DiscardLogger()
	}
	return s.Logger
}

// Succeed marks the job done and publishes the result on the edit.
func (s *Settler) Succeed(ctx context.Context, job *domain.Job, out *pipeline.Outcome, elapsed time.Duration) error {
	finished, err := s.Jobs.Finish(ctx, job.ID, domain.JobCompletion{
		Status:           domain.JobStatusDone,
		Output:           &domain.JobOutput{ResultURL: out.ResultURL, Metadata: out.Metadata},
		ProviderID:       out.ProviderID,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Cancelled while the last stage ran; the canceller already settled it.
			s.logger().Info().Str("job_id", job.ID).Msg("worker: result discarded for cancelled job")
			return nil
		}
		return fmt.Errorf("finish job: %w", err)
	}
	if err := s.Edits.Complete(ctx, finished.EditID, out.ResultURL); err != nil {
		return fmt.Errorf("complete edit: %w", err)
	}
	s.refresh(ctx, finished.EditID)
	return nil
}

// Fail records a failed run. The job keeps the raw error for operators; the
// edit gets the stable category and its message.
func (s *Settler) Fail(ctx context.Context, job *domain.Job, runErr error, elapsed time.Duration) error {
	code := providers.Classify(runErr)
	finished, err := s.Jobs.Finish(ctx, job.ID, domain.JobCompletion{
		Status:           domain.JobStatusFailed,
		ErrorMessage:     runErr.Error(),
		ErrorCode:        code,
		ProviderID:       providerOf(runErr),
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.logger().Info().Str("job_id", job.ID).Msg("worker: failure discarded for cancelled job")
			return nil
		}
		return fmt.Errorf("finish job: %w", err)
	}
	if err := s.Edits.Fail(ctx, finished.EditID, code.Message(), code); err != nil {
		return fmt.Errorf("fail edit: %w", err)
	}
	s.refund(ctx, finished)
	s.refresh(ctx, finished.EditID)
	return nil
}

// Cancelled settles a job an operator just moved to cancelled.
func (s *Settler) Cancelled(ctx context.Context, job *domain.Job) error {
	code := domain.ErrorCodeCancelled
	if err := s.Edits.Fail(ctx, job.EditID, code.Message(), code); err != nil {
		return fmt.Errorf("fail edit: %w", err)
	}
	s.refund(ctx, job)
	s.refresh(ctx, job.EditID)
	return nil
}

// Requeued moves the edit back to pending after a retry or orphan recovery.
func (s *Settler) Requeued(ctx context.Context, job *domain.Job) error {
	if err := s.Edits.SetStatus(ctx, job.EditID, domain.EditStatusFor(job.Status)); err != nil {
		return fmt.Errorf("reset edit: %w", err)
	}
	s.refresh(ctx, job.EditID)
	return nil
}

func (s *Settler) refund(ctx context.Context, job *domain.Job) {
	if s.Ledger == nil || !s.Policy.ShouldRefund(job) {
		return
	}
	refunded, err := s.Ledger.Refund(ctx, job, fmt.Sprintf("Refund for %s (%s)", job.ToolID, job.Status))
	if err != nil {
		s.logger().Error().Err(err).Str("job_id", job.ID).Msg("worker: refund failed")
		return
	}
	if refunded {
		s.logger().Info().Str("job_id", job.ID).Str("user_id", job.UserID).
			Int("credits", job.CreditsCharged).Msg("worker: credits refunded")
	}
}

// refresh replaces the cached edit snapshot; on any error it drops the entry
// so pollers fall through to Postgres.
func (s *Settler) refresh(ctx context.Context, editID string) {
	if s.Cache == nil {
		return
	}
	edit, err := s.Edits.GetByID(ctx, editID)
	if err == nil {
		err = s.Cache.Put(ctx, edit)
	}
	if err != nil {
		s.logger().Warn().Err(err).Str("edit_id", editID).Msg("worker: status cache refresh failed")
		_ = s.Cache.Forget(ctx, editID)
	}
}

func providerOf(err error) string {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.ProviderID
	}
	return ""
}
