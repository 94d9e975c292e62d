package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"retouch/internal/domain"
)

type providerPayload struct {
	ID             string               `json:"id,omitempty"`
	ToolID         domain.ToolID        `json:"toolId"`
	ProviderType   string               `json:"providerType"`
	Endpoint       string               `json:"endpoint"`
	CredentialRef  string               `json:"credentialRef,omitempty"`
	Model          string               `json:"model,omitempty"`
	Priority       int                  `json:"priority"`
	IsDefault      bool                 `json:"isDefault"`
	IsActive       *bool                `json:"isActive,omitempty"`
	TimeoutSeconds int                  `json:"timeoutSeconds,omitempty"`
	RetryCount     int                  `json:"retryCount"`
	PayloadKeys    domain.PayloadKeyMap `json:"payloadKeys"`
	Params         map[string]any       `json:"params,omitempty"`
	UseBase64      bool                 `json:"useBase64"`

	HealthStatus    domain.HealthStatus `json:"healthStatus,omitempty"`
	LastHealthCheck *time.Time          `json:"lastHealthCheck,omitempty"`
}

func (p providerPayload) config() *domain.ProviderConfig {
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return &domain.ProviderConfig{
		ID:            p.ID,
		ToolID:        p.ToolID,
		ProviderType:  p.ProviderType,
		Endpoint:      p.Endpoint,
		CredentialRef: p.CredentialRef,
		Model:         p.Model,
		Priority:      p.Priority,
		IsDefault:     p.IsDefault,
		IsActive:      active,
		Timeout:       time.Duration(p.TimeoutSeconds) * time.Second,
		RetryCount:    p.RetryCount,
		PayloadKeys:   p.PayloadKeys,
		Params:        p.Params,
		UseBase64:     p.UseBase64,
	}
}

func toProviderPayload(c domain.ProviderConfig) providerPayload {
	active := c.IsActive
	return providerPayload{
		ID:              c.ID,
		ToolID:          c.ToolID,
		ProviderType:    c.ProviderType,
		Endpoint:        c.Endpoint,
		CredentialRef:   c.CredentialRef,
		Model:           c.Model,
		Priority:        c.Priority,
		IsDefault:       c.IsDefault,
		IsActive:        &active,
		TimeoutSeconds:  int(c.Timeout / time.Second),
		RetryCount:      c.RetryCount,
		PayloadKeys:     c.PayloadKeys,
		Params:          c.Params,
		UseBase64:       c.UseBase64,
		HealthStatus:    c.HealthStatus,
		LastHealthCheck: c.LastHealthCheck,
	}
}

type jobResponse struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	EditID           string           `json:"editId"`
	ToolID           domain.ToolID    `json:"toolId"`
	Status           domain.JobStatus `json:"status"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	ErrorCode        domain.ErrorCode `json:"errorCode,omitempty"`
	ProviderID       string           `json:"providerId,omitempty"`
	ProcessingTimeMs int64            `json:"processingTimeMs,omitempty"`
	CreditsCharged   int              `json:"creditsCharged"`
	Attempt          int              `json:"attempt"`
	StartedAt        *time.Time       `json:"startedAt,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID: j.ID, UserID: j.UserID, EditID: j.EditID, ToolID: j.ToolID, Status: j.Status,
		ErrorMessage: j.ErrorMessage, ErrorCode: j.ErrorCode, ProviderID: j.ProviderID,
		ProcessingTimeMs: j.ProcessingTimeMs, CreditsCharged: j.CreditsCharged,
		Attempt: j.Attempt, StartedAt: j.StartedAt, CompletedAt: j.CompletedAt, CreatedAt: j.CreatedAt,
	}
}

func (a *App) ListProviders(w http.ResponseWriter, r *http.Request) {
	configs, err := a.Admin.ListProviders(r.Context(), domain.ToolID(r.URL.Query().Get("tool")))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]providerPayload, 0, len(configs))
	for _, c := range configs {
		out = append(out, toProviderPayload(c))
	}
	a.json(w, http.StatusOK, map[string]any{"providers": out})
}

func (a *App) GetProvider(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.Admin.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toProviderPayload(*cfg))
}

func (a *App) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerPayload
	if !a.decode(w, r, &req) {
		return
	}
	cfg := req.config()
	cfg.ID = ""
	if err := a.Admin.CreateProvider(r.Context(), actorFrom(r), cfg); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toProviderPayload(*cfg))
}

func (a *App) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerPayload
	if !a.decode(w, r, &req) {
		return
	}
	cfg := req.config()
	cfg.ID = chi.URLParam(r, "id")
	if err := a.Admin.UpdateProvider(r.Context(), actorFrom(r), cfg); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toProviderPayload(*cfg))
}

func (a *App) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := a.Admin.DeleteProvider(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckProviders probes one provider ({id}) or all of them.
func (a *App) CheckProviders(w http.ResponseWriter, r *http.Request) {
	reports, err := a.Admin.CheckProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	type row struct {
		ID           string        `json:"id"`
		ToolID       domain.ToolID `json:"toolId"`
		ProviderType string        `json:"providerType"`
		Healthy      bool          `json:"healthy"`
	}
	out := make([]row, 0, len(reports))
	for _, rep := range reports {
		out = append(out, row{ID: rep.ID, ToolID: rep.ToolID, ProviderType: rep.ProviderType, Healthy: rep.Healthy})
	}
	a.json(w, http.StatusOK, map[string]any{"health": out})
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Admin.ListJobs(r.Context(), domain.JobFilter{
		Status: domain.JobStatus(r.URL.Query().Get("status")),
		Limit:  queryLimit(r, 50, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Admin.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

// JobStats aggregates jobs per status.
func (a *App) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Admin.JobStats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"stats": stats})
}

func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Admin.CancelJob(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Admin.RetryJob(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toJobResponse(job))
}

type grantRequest struct {
	UserID      string                 `json:"userId"`
	Amount      int                    `json:"amount"`
	Type        domain.TransactionType `json:"type"`
	Description string                 `json:"description"`
}

func (a *App) GrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !a.decode(w, r, &req) {
		return
	}
	balance, err := a.Admin.GrantCredits(r.Context(), actorFrom(r), req.UserID, req.Amount, req.Type, req.Description)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"userId": req.UserID, "credits": balance})
}

func (a *App) SetPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan domain.Plan `json:"plan"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "id")
	if err := a.Admin.SetPlan(r.Context(), actorFrom(r), userID, req.Plan); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"userId": userID, "plan": req.Plan})
}
