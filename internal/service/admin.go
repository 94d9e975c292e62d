package service

import (
	"context"
	"errors"
	"fmt"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/providers"
	"retouch/internal/queue"
)

// ProviderRegistry is the provider management surface. *providers.Registry
// satisfies it.
type ProviderRegistry interface {
	List(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error)
	Get(ctx context.Context, id string) (*domain.ProviderConfig, error)
	Create(ctx context.Context, cfg *domain.ProviderConfig) error
	Update(ctx context.Context, cfg *domain.ProviderConfig) error
	Delete(ctx context.Context, id string) error
	CheckHealth(ctx context.Context, id string) (bool, error)
	CheckAll(ctx context.Context) ([]providers.HealthReport, error)
}

// JobSettler writes edit, refund and cache bookkeeping for operator moves.
// *worker.Settler satisfies it.
type JobSettler interface {
	Cancelled(ctx context.Context, job *domain.Job) error
	Requeued(ctx context.Context, job *domain.Job) error
}

// Actor identifies who performed an operator action.
type Actor struct {
	Name    string
	IP      string
	Country string
}

// AdminOptions wires an AdminService.
type AdminOptions struct {
	Providers ProviderRegistry
	Jobs      domain.JobRepository
	Users     domain.UserRepository
	Ledger    domain.CreditLedger
	Audit     domain.AuditRepository
	Settler   JobSettler
	Canceller Canceller
	Notifier  queue.Notifier
	Logger    *infra.Logger
}

// AdminService backs the operator API and CLI. Every mutation is audited.
type AdminService struct {
	providers ProviderRegistry
	jobs      domain.JobRepository
	users     domain.UserRepository
	ledger    domain.CreditLedger
	audit     domain.AuditRepository
	settler   JobSettler
	canceller Canceller
	notifier  queue.Notifier
	logger    *infra.Logger
}

func NewAdminService(opts AdminOptions) (*AdminService, error) {
	if opts.Providers == nil || opts.Jobs == nil || opts.Users == nil || opts.Ledger == nil || opts.Settler == nil {
		return nil, errors.New("service: providers, jobs, users, ledger and settler are required")
	}
	s := &AdminService{
		providers: opts.Providers,
		jobs:      opts.Jobs,
		users:     opts.Users,
		ledger:    opts.Ledger,
		audit:     opts.Audit,
		settler:   opts.Settler,
		canceller: opts.Canceller,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.logger == nil {
		s.logger = infra.DiscardLogger()
	}
	return s, nil
}

func (s *AdminService) record(ctx context.Context, actor Actor, action, entity, id string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &domain.AuditLog{
		Actor:    actor.Name,
		Action:   action,
		Entity:   entity,
		EntityID: id,
		IP:       actor.IP,
		Country:  actor.Country,
		Details:  details,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", action).Str("entity_id", id).Msg("service: audit write failed")
	}
}

func (s *AdminService) ListProviders(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error) {
	return s.providers.List(ctx, tool)
}

func (s *AdminService) GetProvider(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	return s.providers.Get(ctx, id)
}

func (s *AdminService) CreateProvider(ctx context.Context, actor Actor, cfg *domain.ProviderConfig) error {
	if err := s.providers.Create(ctx, cfg); err != nil {
		return err
	}
	s.record(ctx, actor, "provider.create", "provider", cfg.ID, map[string]any{
		"toolId": cfg.ToolID, "providerType": cfg.ProviderType,
	})
	return nil
}

func (s *AdminService) UpdateProvider(ctx context.Context, actor Actor, cfg *domain.ProviderConfig) error {
	if err := s.providers.Update(ctx, cfg); err != nil {
		return err
	}
	s.record(ctx, actor, "provider.update", "provider", cfg.ID, map[string]any{
		"isActive": cfg.IsActive, "priority": cfg.Priority,
	})
	return nil
}

func (s *AdminService) DeleteProvider(ctx context.Context, actor Actor, id string) error {
	if err := s.providers.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "provider.delete", "provider", id, nil)
	return nil
}

// CheckProvider probes one provider, or all of them when id is empty.
func (s *AdminService) CheckProvider(ctx context.Context, id string) ([]providers.HealthReport, error) {
	if id == "" {
		return s.providers.CheckAll(ctx)
	}
	cfg, err := s.providers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	healthy, err := s.providers.CheckHealth(ctx, id)
	if err != nil {
		return nil, err
	}
	return []providers.HealthReport{{ID: cfg.ID, ToolID: cfg.ToolID, ProviderType: cfg.ProviderType, Healthy: healthy}}, nil
}

func (s *AdminService) ListJobs(ctx context.Context, f domain.JobFilter) ([]domain.Job, error) {
	return s.jobs.List(ctx, f)
}

func (s *AdminService) JobStats(ctx context.Context) ([]domain.JobStat, error) {
	return s.jobs.Stats(ctx)
}

func (s *AdminService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// CancelJob moves a live job to cancelled, settles its edit and refund, and
// interrupts the local worker running it if any.
func (s *AdminService) CancelJob(ctx context.Context, actor Actor, id string) (*domain.Job, error) {
	job, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.settler.Cancelled(ctx, job); err != nil {
		return nil, fmt.Errorf("settle cancelled job: %w", err)
	}
	interrupted := false
	if s.canceller != nil {
		interrupted = s.canceller.Cancel(job.ID)
	}
	s.record(ctx, actor, "job.cancel", "job", job.ID, map[string]any{"interrupted": interrupted})
	s.logger.Info().Str("job_id", job.ID).Bool("interrupted", interrupted).Msg("service: job cancelled")
	return job, nil
}

// RetryJob requeues a failed job. When the failed attempt was refunded the
// charge is taken again first, and a short balance leaves the job failed.
func (s *AdminService) RetryJob(ctx context.Context, actor Actor, id string) (*domain.Job, error) {
	failed, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !failed.Status.CanTransitionTo(domain.JobStatusQueued) {
		return nil, fmt.Errorf("job %s is %s: %w", failed.ID, failed.Status, domain.ErrInvalidTransition)
	}
	recharged, err := s.ledger.Recharge(ctx, failed, fmt.Sprintf("Retry %s", failed.ToolID))
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Retry(ctx, id)
	if err != nil {
		if recharged {
			s.giveBack(ctx, failed)
		}
		return nil, err
	}
	if err := s.settler.Requeued(ctx, job); err != nil {
		return nil, fmt.Errorf("settle requeued job: %w", err)
	}
	if err := s.notifier.Notify(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("service: queue notify failed, worker will poll")
	}
	s.record(ctx, actor, "job.retry", "job", job.ID, map[string]any{"recharged": recharged})
	return job, nil
}

// giveBack returns a retry charge when the retry itself lost a race.
func (s *AdminService) giveBack(ctx context.Context, job *domain.Job) {
	desc := fmt.Sprintf("Refund for %s (retry not applied)", job.ToolID)
	if err := s.ledger.Add(ctx, job.UserID, job.CreditsCharged, domain.TransactionRefund, desc); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("service: retry charge not returned")
	}
}

// GrantCredits adds a purchase or bonus to a user's balance and returns the
// new balance.
func (s *AdminService) GrantCredits(ctx context.Context, actor Actor, userID string, amount int, typ domain.TransactionType, description string) (int, error) {
	if amount <= 0 {
		return 0, domain.NewValidationError("", "amount", "must be positive")
	}
	if typ == "" {
		typ = domain.TransactionPurchase
	}
	if typ != domain.TransactionPurchase && typ != domain.TransactionBonus {
		return 0, domain.NewValidationError("", "type", "must be purchase or bonus")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return 0, err
	}
	if description == "" {
		description = fmt.Sprintf("Granted %d credits", amount)
	}
	if err := s.ledger.Add(ctx, userID, amount, typ, description); err != nil {
		return 0, err
	}
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.record(ctx, actor, "credits.grant", "user", userID, map[string]any{"amount": amount, "type": typ})
	return balance, nil
}

// SetPlan changes a user's subscription tier.
func (s *AdminService) SetPlan(ctx context.Context, actor Actor, userID string, plan domain.Plan) error {
	if plan != domain.ParsePlan(string(plan)) {
		return domain.NewValidationError("", "plan", fmt.Sprintf("unknown plan %q", plan))
	}
	if err := s.users.SetPlan(ctx, userID, plan); err != nil {
		return err
	}
	s.record(ctx, actor, "user.plan", "user", userID, map[string]any{"plan": plan})
	return nil
}
