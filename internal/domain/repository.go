package domain

import (
	"context"
	"time"
)

// UserRepository defines access methods for users.
type UserRepository interface {
	// Ensure returns the user, creating it on first sight. created reports
	// whether the row was inserted by this call.
	Ensure(ctx context.Context, id, email string) (user *User, created bool, err error)
	GetByID(ctx context.Context, id string) (*User, error)
	SetPlan(ctx context.Context, id string, plan Plan) error
}

// ImageRepository persists uploaded originals.
type ImageRepository interface {
	Create(ctx context.Context, img *Image) error
	GetByID(ctx context.Context, id string) (*Image, error)
}

// EditRepository persists user-facing edits. Terminal fields are written only
// by the pipeline runner.
type EditRepository interface {
	Create(ctx context.Context, edit *Edit) error
	GetByID(ctx context.Context, id string) (*Edit, error)
	SetStatus(ctx context.Context, id string, status EditStatus) error
	Complete(ctx context.Context, id, resultURL string) error
	Fail(ctx context.Context, id, message string, code ErrorCode) error
}

// EditSubmitter moves an edit to processing, charges job.CreditsCharged and
// records the job as one unit. It returns ErrInvalidTransition when the edit is
// not pending or failed or still has an unfinished job, and
// ErrInsufficientCredits when the balance is short. Nothing is written then.
type EditSubmitter interface {
	Submit(ctx context.Context, job *Job, description string) error
}

// JobRepository is the job ledger. Every mutation is guarded by the allowed
// source statuses and returns ErrInvalidTransition otherwise.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	Status(ctx context.Context, id string) (JobStatus, error)
	// Claim moves the oldest pending or queued job to processing. It returns
	// ErrNotFound when nothing is claimable.
	Claim(ctx context.Context) (*Job, error)
	Heartbeat(ctx context.Context, ids []string) error
	Finish(ctx context.Context, id string, c JobCompletion) (*Job, error)
	Cancel(ctx context.Context, id string) (*Job, error)
	Retry(ctx context.Context, id string) (*Job, error)
	RequeueOrphaned(ctx context.Context, staleAfter time.Duration) ([]Job, error)
	List(ctx context.Context, f JobFilter) ([]Job, error)
	Stats(ctx context.Context) ([]JobStat, error)
}

// ProviderConfigRepository persists provider configurations. Listing order is
// insertion order.
type ProviderConfigRepository interface {
	ListByTool(ctx context.Context, tool ToolID) ([]ProviderConfig, error)
	List(ctx context.Context) ([]ProviderConfig, error)
	Get(ctx context.Context, id string) (*ProviderConfig, error)
	Create(ctx context.Context, cfg *ProviderConfig) error
	Update(ctx context.Context, cfg *ProviderConfig) error
	Delete(ctx context.Context, id string) error
	UpdateHealth(ctx context.Context, id string, status HealthStatus, at time.Time) error
}

// CreditLedger is the atomic balance store plus append-only log.
type CreditLedger interface {
	// Deduct returns false without writing anything when balance < amount.
	Deduct(ctx context.Context, userID string, amount int, description, editID string) (bool, error)
	Add(ctx context.Context, userID string, amount int, typ TransactionType, description string) error
	// Refund returns a job's charge once per attempt; later calls for the
	// same attempt are no-ops.
	Refund(ctx context.Context, job *Job, description string) (bool, error)
	// Recharge charges a failed job again before a retry when its last
	// attempt was refunded. It returns ErrInsufficientCredits when short.
	Recharge(ctx context.Context, job *Job, description string) (bool, error)
	Balance(ctx context.Context, userID string) (int, error)
	History(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)
}

// AuditRepository records operator actions.
type AuditRepository interface {
	Record(ctx context.Context, entry *AuditLog) error
}

// AuditLog is one operator action.
type AuditLog struct {
	ID        string
	Actor     string
	Action    string
	Entity    string
	EntityID  string
	IP        string
	Country   string
	Details   map[string]any
	CreatedAt time.Time
}
