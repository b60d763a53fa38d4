package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the /api surface. Health and version stay open; everything
// else requires the API key.
func (h *Handler) Routes(apiKey, version string) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": version})
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(apiKey))
		r.Post("/run-test", h.RunTest)
		r.Post("/run-project-tests", h.RunProjectTests)
		r.Post("/refresh-repo", h.RefreshRepo)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.SubmitRun)
			r.Get("/", h.ListRuns)
			r.Get("/{requestId}", h.GetRun)
		})
	})
	return r
}
