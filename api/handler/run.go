package handler

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"robotrunner/api/model"
	"robotrunner/api/store"
)

type RunTestRequest struct {
	RequestID       string `json:"requestId"`
	Project         string `json:"project"`
	Content         string `json:"content"` // base64
	TestResultTitle string `json:"testResultTitle,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty"`
}

type RunProjectRequest struct {
	RequestID      string `json:"requestId"`
	Project        string `json:"project"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type SubmitRunRequest struct {
	Kind model.RunKind `json:"kind,omitempty"`
	RunTestRequest
}

type RunResponse struct {
	Success   bool                `json:"success"`
	RequestID string              `json:"requestId"`
	Project   string              `json:"project"`
	ReportURL string              `json:"reportUrl"`
	Status    model.RunStatus     `json:"status"`
	ExitCode  int                 `json:"exitCode"`
	Artifacts []model.ArtifactRef `json:"artifacts"`
}

type SubmitResponse struct {
	Success   bool            `json:"success"`
	RequestID string          `json:"requestId"`
	Project   string          `json:"project"`
	Status    model.RunStatus `json:"status"`
	StatusURL string          `json:"statusUrl"`
}

func decodeContent(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &model.ValidationError{Field: "content", Message: "content is not valid base64"}
	}
	return string(b), nil
}

func timeoutOf(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func (b *RunTestRequest) toRunRequest(kind model.RunKind) (*model.RunRequest, error) {
	content, err := decodeContent(b.Content)
	if err != nil {
		return nil, err
	}
	return &model.RunRequest{
		RequestID:       strings.TrimSpace(b.RequestID),
		Project:         strings.TrimSpace(b.Project),
		Kind:            kind,
		Content:         content,
		TestResultTitle: b.TestResultTitle,
		Timeout:         timeoutOf(b.TimeoutSeconds),
	}, nil
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, req *model.RunRequest) {
	if err := req.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	run, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, RunResponse{
		Success:   true,
		RequestID: run.RequestID,
		Project:   run.Project,
		ReportURL: run.ReportURL,
		Status:    run.Status,
		ExitCode:  run.ExitCode,
		Artifacts: run.Artifacts,
	})
}

// RunTest runs one inline suite and answers once its reports are published.
func (h *Handler) RunTest(w http.ResponseWriter, r *http.Request) {
	var body RunTestRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.toRunRequest(model.KindManual)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.execute(w, r, req)
}

// RunProjectTests runs every suite of a project directory.
func (h *Handler) RunProjectTests(w http.ResponseWriter, r *http.Request) {
	var body RunProjectRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.execute(w, r, &model.RunRequest{
		RequestID: strings.TrimSpace(body.RequestID),
		Project:   strings.TrimSpace(body.Project),
		Kind:      model.KindProject,
		Timeout:   timeoutOf(body.TimeoutSeconds),
	})
}

// SubmitRun queues a run and returns immediately; callers poll GetRun.
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var body SubmitRunRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.Kind == "" {
		body.Kind = model.KindManual
		if body.Content == "" {
			body.Kind = model.KindProject
		}
	}
	if strings.TrimSpace(body.RequestID) == "" {
		body.RequestID = uuid.NewString()
	}
	req, err := body.toRunRequest(body.Kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := req.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	run, err := h.exec.Submit(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, SubmitResponse{
		Success:   true,
		RequestID: run.RequestID,
		Project:   run.Project,
		Status:    run.Status,
		StatusURL: "/api/runs/" + run.RequestID,
	})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "run": run})
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RunFilter{
		Project: q.Get("project"),
		Status:  model.RunStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "runs": runs})
}
