package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"robotrunner/api/executor"
	"robotrunner/api/hub"
	"robotrunner/api/logging"
	"robotrunner/api/model"
	"robotrunner/api/runtime"
	"robotrunner/api/store"
)

// maxBodyBytes bounds request bodies; inline suites travel base64 encoded.
const maxBodyBytes = 32 << 20

type RunExecutor interface {
	Execute(ctx context.Context, req *model.RunRequest) (*model.Run, error)
	Submit(ctx context.Context, req *model.RunRequest) (*model.Run, error)
}

type RepoSyncer interface {
	Sync(ctx context.Context) (string, error)
	Ready() bool
}

type HealthChecker interface {
	Healthy(ctx context.Context) error
}

type Notifier interface {
	Broadcast(evt hub.Event)
}

type Handler struct {
	exec    RunExecutor
	repo    RepoSyncer
	runs    store.Store
	storage HealthChecker
	ws      Notifier
	logger  zerolog.Logger
}

func New(exec RunExecutor, repo RepoSyncer, runs store.Store, storage HealthChecker, ws Notifier) *Handler {
	return &Handler{
		exec:    exec,
		repo:    repo,
		runs:    runs,
		storage: storage,
		ws:      ws,
		logger:  logging.Component("handler"),
	}
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, errorResponse{Error: true, Message: message})
}

// statusFor maps an error to the HTTP status it is reported with.
func statusFor(err error) int {
	switch {
	case model.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, runtime.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, executor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Message: "invalid request body"}
	}
	return nil
}
