package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports ok when every dependency answers within two seconds.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(a.Checks))
	for _, c := range a.Checks {
		if err := c.Ping(ctx); err != nil {
			deps[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[c.Name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	a.json(w, status, map[string]any{"status": state, "dependencies": deps})
}
