package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"retouch/internal/domain"
	"retouch/internal/i18n"
	"retouch/internal/middleware"
	"retouch/internal/service"
)

type imageResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	MIME      string    `json:"mime"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"createdAt"`
}

type editResponse struct {
	ID        string            `json:"id"`
	ImageID   string            `json:"imageId,omitempty"`
	ImageURL  string            `json:"imageUrl,omitempty"`
	ToolType  domain.ToolID     `json:"toolType"`
	Prompt    string            `json:"prompt,omitempty"`
	MaskURL   string            `json:"maskUrl,omitempty"`
	Status    domain.EditStatus `json:"status"`
	ResultURL string            `json:"resultUrl,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorCode domain.ErrorCode  `json:"errorCode,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// toEditResponse renders the stored failure in the caller's locale.
func toEditResponse(e *domain.Edit, locale string) editResponse {
	resp := editResponse{
		ID:        e.ID,
		ImageID:   e.ImageID,
		ImageURL:  e.ImageURL,
		ToolType:  e.ToolType,
		Prompt:    e.Prompt,
		MaskURL:   e.MaskURL,
		Status:    e.Status,
		ResultURL: e.ResultURL,
		Error:     e.Error,
		ErrorCode: e.ErrorCode,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.ErrorCode != domain.ErrorCodeNone {
		resp.Error = i18n.ErrorMessage(locale, e.ErrorCode)
	}
	return resp
}

// UploadImage accepts a multipart "file" field.
func (a *App) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadBytes+1<<20)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", "upload is too large")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", `multipart field "file" is required`)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, service.MaxUploadBytes+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}
	img, err := a.Edits.UploadImage(r.Context(), userID, data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, imageResponse{
		ID: img.ID, URL: img.URL, MIME: img.MIME, Width: img.Width, Height: img.Height, CreatedAt: img.CreatedAt,
	})
}

func (a *App) CreateEdit(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}
	var req service.CreateEditInput
	if !a.decode(w, r, &req) {
		return
	}
	edit, err := a.Edits.CreateEdit(r.Context(), userID, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toEditResponse(edit, middleware.LocaleFromContext(r.Context())))
}

// ProcessEdit charges and queues the edit. The response is sent before any
// provider is contacted.
func (a *App) ProcessEdit(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}
	edit, err := a.Edits.ProcessEdit(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toEditResponse(edit, middleware.LocaleFromContext(r.Context())))
}

func (a *App) GetEdit(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}
	edit, err := a.Edits.GetEdit(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toEditResponse(edit, middleware.LocaleFromContext(r.Context())))
}
