package handler

import (
	"context"
	"net/http"
	"time"
)

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // up, down
	Details string `json:"details,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := []ServiceHealth{
		h.checkRepository(),
		check(ctx, "storage", h.storage.Healthy),
		check(ctx, "store", h.runs.Ping),
	}

	status := "healthy"
	for _, s := range services {
		if s.Status == "down" {
			status = "degraded"
		}
	}

	writeJSON(w, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}

func (h *Handler) checkRepository() ServiceHealth {
	if !h.repo.Ready() {
		return ServiceHealth{Name: "repository", Status: "down", Details: "no usable checkout"}
	}
	return ServiceHealth{Name: "repository", Status: "up"}
}

func check(ctx context.Context, name string, fn func(context.Context) error) ServiceHealth {
	if err := fn(ctx); err != nil {
		return ServiceHealth{Name: name, Status: "down", Details: err.Error()}
	}
	return ServiceHealth{Name: name, Status: "up"}
}
