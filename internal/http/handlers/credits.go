package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"retouch/internal/domain"
	"retouch/internal/pipeline"
)

type transactionResponse struct {
	ID          string                 `json:"id"`
	Amount      int                    `json:"amount"`
	Type        domain.TransactionType `json:"type"`
	Description string                 `json:"description"`
	EditID      string                 `json:"editId,omitempty"`
	JobID       string                 `json:"jobId,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

type toolCost struct {
	Tool  domain.ToolID `json:"tool"`
	Cost  int           `json:"cost"`
	Shape string        `json:"shape"`
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}
	acc, err := a.Edits.Account(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, acc)
}

func (a *App) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}
	rows, err := a.Edits.Transactions(r.Context(), userID, queryLimit(r, 50, 200))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(rows))
	for _, t := range rows {
		out = append(out, transactionResponse{
			ID: t.ID, Amount: t.Amount, Type: t.Type, Description: t.Description,
			EditID: t.EditID, JobID: t.JobID, CreatedAt: t.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"transactions": out})
}

// Costs lists the base price of every tool.
func (a *App) Costs(w http.ResponseWriter, r *http.Request) {
	tools := pipeline.Tools()
	out := make([]toolCost, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolCost{Tool: t.ID, Cost: t.BaseCost, Shape: string(t.Shape)})
	}
	a.json(w, http.StatusOK, map[string]any{"costs": out})
}

// Cost prices one request, including prompt surcharges from ?prompt=.
func (a *App) Cost(w http.ResponseWriter, r *http.Request) {
	tool := domain.ToolID(chi.URLParam(r, "tool"))
	cost, err := pipeline.Cost(tool, r.URL.Query().Get("prompt"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"tool": tool, "cost": cost})
}

func (a *App) Packages(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"packages": domain.CreditPackages})
}

func queryLimit(r *http.Request, def, ceiling int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, ceiling)
}
