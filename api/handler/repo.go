package handler

import (
	"context"
	"net/http"

	"robotrunner/api/hub"
)

// RefreshRepo replaces the checkout with a fresh clone. It waits for
// in-flight runs to release the checkout first.
func (h *Handler) RefreshRepo(w http.ResponseWriter, r *http.Request) {
	path, err := h.repo.Sync(context.WithoutCancel(r.Context()))
	if err != nil {
		h.logger.Error().Err(err).Msg("repository refresh failed")
		writeError(w, http.StatusInternalServerError, "Failed to refresh repository: "+err.Error())
		return
	}
	h.ws.Broadcast(hub.Event{Type: hub.RepoRefreshed, Payload: map[string]string{
		"repoPath": path,
		"trigger":  "api",
	}})
	writeJSON(w, map[string]interface{}{
		"success":  true,
		"message":  "Repository refreshed successfully",
		"repoPath": path,
	})
}
