package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"retouch/internal/domain"
	"retouch/internal/i18n"
	"retouch/internal/middleware"
	"retouch/internal/providers"
	"retouch/internal/service"
)

// EditAPI is the user-facing surface. *service.EditService satisfies it.
type EditAPI interface {
	EnsureAccount(ctx context.Context, userID, email string) (*service.Account, error)
	UploadImage(ctx context.Context, userID string, data []byte) (*domain.Image, error)
	CreateEdit(ctx context.Context, userID string, in service.CreateEditInput) (*domain.Edit, error)
	ProcessEdit(ctx context.Context, userID, editID string) (*domain.Edit, error)
	GetEdit(ctx context.Context, userID, editID string) (*domain.Edit, error)
	Account(ctx context.Context, userID string) (*service.Account, error)
	Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error)
}

// AdminAPI is the operator surface. *service.AdminService satisfies it.
type AdminAPI interface {
	ListProviders(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error)
	GetProvider(ctx context.Context, id string) (*domain.ProviderConfig, error)
	CreateProvider(ctx context.Context, actor service.Actor, cfg *domain.ProviderConfig) error
	UpdateProvider(ctx context.Context, actor service.Actor, cfg *domain.ProviderConfig) error
	DeleteProvider(ctx context.Context, actor service.Actor, id string) error
	CheckProvider(ctx context.Context, id string) ([]providers.HealthReport, error)
	ListJobs(ctx context.Context, f domain.JobFilter) ([]domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	JobStats(ctx context.Context) ([]domain.JobStat, error)
	CancelJob(ctx context.Context, actor service.Actor, id string) (*domain.Job, error)
	RetryJob(ctx context.Context, actor service.Actor, id string) (*domain.Job, error)
	GrantCredits(ctx context.Context, actor service.Actor, userID string, amount int, typ domain.TransactionType, description string) (int, error)
	SetPlan(ctx context.Context, actor service.Actor, userID string, plan domain.Plan) error
}

// HealthCheck is one dependency probed by /v1/healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type App struct {
	Edits  EditAPI
	Admin  AdminAPI
	Checks []HealthCheck
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}

// fail maps service errors to status codes. Unknown errors are logged and
// reported as 500 without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	var (
		verr *domain.ValidationError
		cerr *domain.ConfigurationError
	)
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, map[string]errorBody{"error": {
			Code:    string(domain.ErrorCodeValidation),
			Message: verr.Error(),
			Details: map[string]string{"field": verr.Field},
		}})
	case errors.Is(err, domain.ErrPlanRequired):
		a.error(w, http.StatusForbidden, i18n.KeyPlanRequired, i18n.Text(locale, i18n.KeyPlanRequired))
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, i18n.KeyInsufficientCredits, i18n.Text(locale, i18n.KeyInsufficientCredits))
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, i18n.KeyNotFound, i18n.Text(locale, i18n.KeyNotFound))
	case errors.As(err, &cerr):
		a.error(w, http.StatusServiceUnavailable, i18n.KeyNoProvider, i18n.Text(locale, i18n.KeyNoProvider))
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

func (a *App) currentUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return "", false
	}
	return userID, true
}

// EnsureAccount creates the caller's user row on first sight.
func (a *App) EnsureAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.currentUserID(w, r)
		if !ok {
			return
		}
		if _, err := a.Edits.EnsureAccount(r.Context(), userID, middleware.UserEmailFromContext(r.Context())); err != nil {
			a.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(r *http.Request) service.Actor {
	return service.Actor{
		Name:    middleware.ActorFromContext(r.Context()),
		IP:      middleware.ClientIP(r),
		Country: middleware.CountryFromContext(r.Context()),
	}
}
