package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"retouch/internal/domain"
	"retouch/internal/imageops"
	"retouch/internal/infra"
	"retouch/internal/pipeline"
	"retouch/internal/queue"
)

// MaxUploadBytes bounds a single original.
const MaxUploadBytes = 20 << 20

// EditOptions wires an EditService.
type EditOptions struct {
	Users      domain.UserRepository
	Images     domain.ImageRepository
	Edits      domain.EditRepository
	Ledger     domain.CreditLedger
	Submitter  domain.EditSubmitter
	Candidates CandidateSource
	Uploads    Uploader
	Notifier   queue.Notifier
	Cache      StatusCache
	Logger     *infra.Logger
}

// EditService runs the user-facing edit flow: upload, create, trigger, poll.
type EditService struct {
	users      domain.UserRepository
	images     domain.ImageRepository
	edits      domain.EditRepository
	ledger     domain.CreditLedger
	submitter  domain.EditSubmitter
	candidates CandidateSource
	uploads    Uploader
	notifier   queue.Notifier
	cache      StatusCache
	logger     *infra.Logger
}

func NewEditService(opts EditOptions) (*EditService, error) {
	if opts.Users == nil || opts.Images == nil || opts.Edits == nil || opts.Ledger == nil || opts.Submitter == nil {
		return nil, errors.New("service: users, images, edits, ledger and submitter are required")
	}
	s := &EditService{
		users:      opts.Users,
		images:     opts.Images,
		edits:      opts.Edits,
		ledger:     opts.Ledger,
		submitter:  opts.Submitter,
		candidates: opts.Candidates,
		uploads:    opts.Uploads,
		notifier:   opts.Notifier,
		cache:      opts.Cache,
		logger:     opts.Logger,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.logger == nil {
		s.logger = infra.DiscardLogger()
	}
	return s, nil
}

// Account is the caller's billing view.
type Account struct {
	UserID  string      `json:"userId"`
	Plan    domain.Plan `json:"plan"`
	Credits int         `json:"credits"`
}

// EnsureAccount returns the caller's user row, granting the signup bonus the
// first time the id is seen.
func (s *EditService) EnsureAccount(ctx context.Context, userID, email string) (*Account, error) {
	user, created, err := s.users.Ensure(ctx, userID, email)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if created && domain.SignupBonusCredits > 0 {
		if err := s.ledger.Add(ctx, user.ID, domain.SignupBonusCredits, domain.TransactionBonus, "Signup bonus"); err != nil {
			return nil, fmt.Errorf("grant signup bonus: %w", err)
		}
		user.Credits += domain.SignupBonusCredits
		s.logger.Info().Str("user_id", user.ID).Int("credits", domain.SignupBonusCredits).Msg("service: signup bonus granted")
	}
	return &Account{UserID: user.ID, Plan: user.Plan, Credits: user.Credits}, nil
}

// UploadImage stores an original and records it for the caller.
func (s *EditService) UploadImage(ctx context.Context, userID string, data []byte) (*domain.Image, error) {
	if s.uploads == nil {
		return nil, errors.New("service: uploads are not configured")
	}
	if len(data) == 0 {
		return nil, domain.NewValidationError("", "file", "empty upload")
	}
	if len(data) > MaxUploadBytes {
		return nil, domain.NewValidationError("", "file", fmt.Sprintf("upload exceeds %d bytes", MaxUploadBytes))
	}
	info, err := imageops.Probe(data)
	if err != nil {
		return nil, domain.NewValidationError("", "file", "not a supported image")
	}
	img := &domain.Image{
		ID:     uuid.NewString(),
		UserID: userID,
		MIME:   "image/" + info.Format,
		Width:  info.Width,
		Height: info.Height,
	}
	key := fmt.Sprintf("uploads/%s/%s.%s", userID, img.ID, uploadExt(info.Format))
	img.StorageKey, img.URL, err = s.uploads.Save(ctx, key, data)
	if err != nil {
		return nil, err
	}
	if err := s.images.Create(ctx, img); err != nil {
		return nil, fmt.Errorf("record image: %w", err)
	}
	return img, nil
}

func uploadExt(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// CreateEditInput is the body of POST /v1/edits.
type CreateEditInput struct {
	ImageID  string        `json:"imageId"`
	ToolType domain.ToolID `json:"toolType"`
	Prompt   string        `json:"prompt"`
	MaskURL  string        `json:"maskUrl"`
}

// CreateEdit records a pending edit. Inputs are checked again when the edit
// is processed.
func (s *EditService) CreateEdit(ctx context.Context, userID string, in CreateEditInput) (*domain.Edit, error) {
	if _, ok := pipeline.Lookup(in.ToolType); !ok {
		return nil, domain.NewValidationError(in.ToolType, "toolType", "unknown tool")
	}
	edit := &domain.Edit{
		UserID:   userID,
		ToolType: in.ToolType,
		Prompt:   strings.TrimSpace(in.Prompt),
		MaskURL:  strings.TrimSpace(in.MaskURL),
		Status:   domain.EditStatusPending,
	}
	if in.ImageID != "" {
		img, err := s.images.GetByID(ctx, in.ImageID)
		if err != nil {
			return nil, err
		}
		if img.UserID != userID {
			return nil, domain.ErrNotFound
		}
		edit.ImageID = img.ID
		edit.ImageURL = img.URL
	}
	if err := pipeline.Validate(edit.ToolType, domain.JobInput{ImageURL: edit.ImageURL, MaskURL: edit.MaskURL, Prompt: edit.Prompt}); err != nil {
		return nil, err
	}
	if err := s.edits.Create(ctx, edit); err != nil {
		return nil, fmt.Errorf("create edit: %w", err)
	}
	return edit, nil
}

// ProcessEdit charges the caller and queues a job for the edit. It returns as
// soon as the job is recorded. An edit is triggered at most once at a time:
// the claim, the charge and the job row commit together.
func (s *EditService) ProcessEdit(ctx context.Context, userID, editID string) (*domain.Edit, error) {
	edit, err := s.ownedEdit(ctx, userID, editID)
	if err != nil {
		return nil, err
	}
	if edit.Status == domain.EditStatusProcessing || edit.Status == domain.EditStatusCompleted {
		return nil, fmt.Errorf("edit %s is %s: %w", edit.ID, edit.Status, domain.ErrInvalidTransition)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	in := domain.JobInput{ImageURL: edit.ImageURL, MaskURL: edit.MaskURL, Prompt: edit.Prompt, Plan: user.Plan}
	if err := pipeline.Validate(edit.ToolType, in); err != nil {
		return nil, err
	}
	if err := pipeline.CheckPlan(edit.ToolType, edit.Prompt, user.Plan); err != nil {
		return nil, err
	}
	if err := s.checkProviders(ctx, edit.ToolType, edit.Prompt); err != nil {
		return nil, err
	}
	cost, err := pipeline.Cost(edit.ToolType, edit.Prompt)
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	job := &domain.Job{
		UserID:         userID,
		EditID:         edit.ID,
		ToolID:         edit.ToolType,
		Status:         domain.JobStatusPending,
		InputData:      input,
		CreditsCharged: cost,
	}
	if err := s.submitter.Submit(ctx, job, fmt.Sprintf("Used %s", edit.ToolType)); err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientCredits):
			return nil, domain.ErrInsufficientCredits
		case errors.Is(err, domain.ErrInvalidTransition):
			return nil, fmt.Errorf("edit %s already has a job in flight: %w", edit.ID, domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("queue edit: %w", err)
	}
	edit.Status = domain.EditStatusProcessing
	edit.Error = ""
	edit.ErrorCode = domain.ErrorCodeNone
	s.putCache(ctx, edit)

	if err := s.notifier.Notify(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("service: queue notify failed, worker will poll")
	}
	s.logger.Info().Str("edit_id", edit.ID).Str("job_id", job.ID).Str("tool", string(edit.ToolType)).
		Int("credits", cost).Msg("service: edit queued")
	return edit, nil
}

// checkProviders fails fast with a ConfigurationError when a remote tool has
// no active provider.
func (s *EditService) checkProviders(ctx context.Context, tool domain.ToolID, prompt string) error {
	if s.candidates == nil {
		return nil
	}
	for _, backend := range pipeline.Backends(tool, prompt) {
		if _, err := s.candidates.SelectCandidates(ctx, backend); err != nil {
			return err
		}
	}
	return nil
}

// GetEdit serves the polled status, from the cache when possible.
func (s *EditService) GetEdit(ctx context.Context, userID, editID string) (*domain.Edit, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, editID)
		if err != nil {
			s.logger.Warn().Err(err).Str("edit_id", editID).Msg("service: status cache read failed")
		}
		if ok && cached.UserID == userID {
			return cached, nil
		}
	}
	edit, err := s.ownedEdit(ctx, userID, editID)
	if err != nil {
		return nil, err
	}
	s.putCache(ctx, edit)
	return edit, nil
}

func (s *EditService) ownedEdit(ctx context.Context, userID, editID string) (*domain.Edit, error) {
	edit, err := s.edits.GetByID(ctx, editID)
	if err != nil {
		return nil, err
	}
	if edit.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return edit, nil
}

func (s *EditService) putCache(ctx context.Context, edit *domain.Edit) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, edit); err != nil {
		s.logger.Warn().Err(err).Str("edit_id", edit.ID).Msg("service: status cache write failed")
	}
}

// Account returns balance and plan.
func (s *EditService) Account(ctx context.Context, userID string) (*Account, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Account{UserID: user.ID, Plan: user.Plan, Credits: user.Credits}, nil
}

// Transactions returns the caller's newest ledger rows.
func (s *EditService) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	return s.ledger.History(ctx, userID, limit)
}
