package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"retouch/internal/domain"
	"retouch/internal/providers"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers(users ...domain.User) *memUsers {
	m := &memUsers{users: map[string]*domain.User{}}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memUsers) Ensure(_ context.Context, id, email string) (*domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, false, nil
	}
	u := &domain.User{ID: id, Email: email, Plan: domain.PlanFree}
	m.users[id] = u
	cp := *u
	return &cp, true, nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) SetPlan(_ context.Context, id string, plan domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Plan = plan
	return nil
}

type memImages struct {
	images map[string]domain.Image
}

func (m *memImages) Create(_ context.Context, img *domain.Image) error {
	if m.images == nil {
		m.images = map[string]domain.Image{}
	}
	m.images[img.ID] = *img
	return nil
}

func (m *memImages) GetByID(_ context.Context, id string) (*domain.Image, error) {
	img, ok := m.images[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &img, nil
}

type memEdits struct {
	mu    sync.Mutex
	seq   int
	edits map[string]domain.Edit
}

func (m *memEdits) Create(_ context.Context, e *domain.Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edits == nil {
		m.edits = map[string]domain.Edit{}
	}
	m.seq++
	e.ID = fmt.Sprintf("edit-%d", m.seq)
	m.edits[e.ID] = *e
	return nil
}

func (m *memEdits) GetByID(_ context.Context, id string) (*domain.Edit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edits[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (m *memEdits) SetStatus(_ context.Context, id string, status domain.EditStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edits[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = status
	m.edits[id] = e
	return nil
}

func (m *memEdits) Complete(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.edits[id]
	e.Status, e.ResultURL = domain.EditStatusCompleted, url
	m.edits[id] = e
	return nil
}

func (m *memEdits) Fail(_ context.Context, id, msg string, code domain.ErrorCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.edits[id]
	e.Status, e.Error, e.ErrorCode = domain.EditStatusFailed, msg, code
	m.edits[id] = e
	return nil
}

type memJobs struct {
	mu        sync.Mutex
	seq       int
	jobs      map[string]domain.Job
	createErr error
	retryErr  error
}

func (m *memJobs) Create(_ context.Context, j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.jobs == nil {
		m.jobs = map[string]domain.Job{}
	}
	m.seq++
	j.ID = fmt.Sprintf("job-%d", m.seq)
	m.jobs[j.ID] = *j
	return nil
}

func (m *memJobs) GetByID(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (m *memJobs) Status(ctx context.Context, id string) (domain.JobStatus, error) {
	j, err := m.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

func (m *memJobs) move(id string, next domain.JobStatus) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !j.Status.CanTransitionTo(next) {
		return nil, domain.ErrInvalidTransition
	}
	j.Status = next
	m.jobs[id] = j
	return &j, nil
}

func (m *memJobs) unfinished(editID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.EditID == editID && !j.Status.Terminal() {
			return true
		}
	}
	return false
}

func (m *memJobs) Claim(context.Context) (*domain.Job, error)      { return nil, domain.ErrNotFound }
func (m *memJobs) Heartbeat(context.Context, []string) error       { return nil }
func (m *memJobs) Stats(context.Context) ([]domain.JobStat, error) { return nil, nil }
func (m *memJobs) Finish(_ context.Context, id string, c domain.JobCompletion) (*domain.Job, error) {
	return m.move(id, c.Status)
}
func (m *memJobs) Cancel(_ context.Context, id string) (*domain.Job, error) {
	return m.move(id, domain.JobStatusCancelled)
}
func (m *memJobs) Retry(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if m.retryErr != nil {
		return nil, m.retryErr
	}
	if !j.Status.CanTransitionTo(domain.JobStatusQueued) {
		return nil, domain.ErrInvalidTransition
	}
	j.Status = domain.JobStatusQueued
	j.Attempt++
	m.jobs[id] = j
	return &j, nil
}
func (m *memJobs) RequeueOrphaned(context.Context, time.Duration) ([]domain.Job, error) {
	return nil, nil
}
func (m *memJobs) List(context.Context, domain.JobFilter) ([]domain.Job, error) { return nil, nil }

type memLedger struct {
	mu       sync.Mutex
	balances map[string]int
	rows     []domain.CreditTransaction
	refunded map[string]bool
}

func newMemLedger(balances map[string]int) *memLedger {
	return &memLedger{balances: balances}
}

func (m *memLedger) Deduct(_ context.Context, userID string, amount int, desc, editID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID] < amount {
		return false, nil
	}
	m.balances[userID] -= amount
	m.rows = append(m.rows, domain.CreditTransaction{UserID: userID, Amount: -amount, Type: domain.TransactionUsage, Description: desc, EditID: editID})
	return true, nil
}

// undo drops the last row for userID and restores its amount.
func (m *memLedger) undo(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserID == userID {
			m.balances[userID] -= m.rows[i].Amount
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return
		}
	}
}

// memSubmitter claims, charges and inserts under one lock and unwinds the
// charge when the insert fails, like the transactional submitter.
type memSubmitter struct {
	mu     sync.Mutex
	edits  *memEdits
	jobs   *memJobs
	ledger *memLedger
}

func (m *memSubmitter) Submit(ctx context.Context, j *domain.Job, desc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edit, err := m.edits.GetByID(ctx, j.EditID)
	if err != nil {
		return err
	}
	claimable := edit.Status == domain.EditStatusPending || edit.Status == domain.EditStatusFailed
	if !claimable || m.jobs.unfinished(j.EditID) {
		return domain.ErrInvalidTransition
	}
	if j.CreditsCharged > 0 {
		ok, _ := m.ledger.Deduct(ctx, j.UserID, j.CreditsCharged, desc, j.EditID)
		if !ok {
			return domain.ErrInsufficientCredits
		}
	}
	j.Status = domain.JobStatusPending
	if err := m.jobs.Create(ctx, j); err != nil {
		if j.CreditsCharged > 0 {
			m.ledger.undo(j.UserID)
		}
		return err
	}
	return m.edits.SetStatus(ctx, j.EditID, domain.EditStatusProcessing)
}

func (m *memLedger) Add(_ context.Context, userID string, amount int, typ domain.TransactionType, desc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	m.rows = append(m.rows, domain.CreditTransaction{UserID: userID, Amount: amount, Type: typ, Description: desc})
	return nil
}

func attemptKey(job *domain.Job) string {
	return fmt.Sprintf("%s#%d", job.ID, job.Attempt)
}

func (m *memLedger) Refund(ctx context.Context, job *domain.Job, desc string) (bool, error) {
	m.mu.Lock()
	if m.refunded == nil {
		m.refunded = map[string]bool{}
	}
	if m.refunded[attemptKey(job)] {
		m.mu.Unlock()
		return false, nil
	}
	m.refunded[attemptKey(job)] = true
	m.mu.Unlock()
	return true, m.Add(ctx, job.UserID, job.CreditsCharged, domain.TransactionRefund, desc)
}

func (m *memLedger) Recharge(ctx context.Context, job *domain.Job, desc string) (bool, error) {
	m.mu.Lock()
	owed := m.refunded[attemptKey(job)]
	m.mu.Unlock()
	if !owed || job.CreditsCharged <= 0 {
		return false, nil
	}
	ok, err := m.Deduct(ctx, job.UserID, job.CreditsCharged, desc, job.EditID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.ErrInsufficientCredits
	}
	return true, nil
}

func (m *memLedger) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memLedger) History(_ context.Context, userID string, _ int) ([]domain.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CreditTransaction
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type memAudit struct {
	entries []domain.AuditLog
}

func (m *memAudit) Record(_ context.Context, e *domain.AuditLog) error {
	m.entries = append(m.entries, *e)
	return nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (n *recordingNotifier) Notify(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
	return n.err
}

type memStatus struct {
	mu    sync.Mutex
	edits map[string]domain.Edit
}

func (m *memStatus) Get(_ context.Context, id string) (*domain.Edit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.edits[id]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (m *memStatus) Put(_ context.Context, e *domain.Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edits == nil {
		m.edits = map[string]domain.Edit{}
	}
	m.edits[e.ID] = *e
	return nil
}

func (m *memStatus) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.edits, id)
	return nil
}

// activeTools answers SelectCandidates like a registry with one active
// provider per listed tool.
type activeTools map[domain.ToolID]bool

func (a activeTools) SelectCandidates(_ context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error) {
	if !a[tool] {
		return nil, &domain.ConfigurationError{Tool: tool}
	}
	return []domain.ProviderConfig{{ID: "p-" + string(tool), ToolID: tool, IsActive: true}}, nil
}

type memUploads struct {
	saved map[string][]byte
}

func (m *memUploads) Save(_ context.Context, key string, data []byte) (string, string, error) {
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	m.saved[key] = data
	return key, "http://cdn.test/" + key, nil
}

type recordingSettler struct {
	cancelled []string
	requeued  []string
}

func (r *recordingSettler) Cancelled(_ context.Context, j *domain.Job) error {
	r.cancelled = append(r.cancelled, j.ID)
	return nil
}

func (r *recordingSettler) Requeued(_ context.Context, j *domain.Job) error {
	r.requeued = append(r.requeued, j.ID)
	return nil
}

type recordingCanceller struct {
	running map[string]bool
}

func (r recordingCanceller) Cancel(id string) bool { return r.running[id] }

type memProviders struct {
	configs map[string]domain.ProviderConfig
}

func (m *memProviders) List(context.Context, domain.ToolID) ([]domain.ProviderConfig, error) {
	out := make([]domain.ProviderConfig, 0, len(m.configs))
	for _, c := range m.configs {
		out = append(out, c)
	}
	return out, nil
}

func (m *memProviders) Get(_ context.Context, id string) (*domain.ProviderConfig, error) {
	c, ok := m.configs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memProviders) Create(_ context.Context, c *domain.ProviderConfig) error {
	if c.ToolID == "" {
		return domain.NewValidationError("", "toolId", "is required")
	}
	if m.configs == nil {
		m.configs = map[string]domain.ProviderConfig{}
	}
	c.ID = "cfg-" + string(c.ToolID)
	m.configs[c.ID] = *c
	return nil
}

func (m *memProviders) Update(_ context.Context, c *domain.ProviderConfig) error {
	m.configs[c.ID] = *c
	return nil
}

func (m *memProviders) Delete(_ context.Context, id string) error {
	delete(m.configs, id)
	return nil
}

func (m *memProviders) CheckHealth(context.Context, string) (bool, error) { return true, nil }

func (m *memProviders) CheckAll(context.Context) ([]providers.HealthReport, error) {
	return nil, nil
}
