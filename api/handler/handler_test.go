package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robotrunner/api/executor"
	"robotrunner/api/hub"
	"robotrunner/api/model"
	"robotrunner/api/runtime"
	"robotrunner/api/store"
)

const testKey = "s3cret"

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	last  *model.RunRequest
	err   error
	run   func(req *model.RunRequest) *model.Run
}

func (f *fakeExecutor) do(req *model.RunRequest) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.run != nil {
		return f.run(req), nil
	}
	run := model.NewRun(req)
	run.Status = model.RunPassed
	run.ExitCode = 0
	run.ReportURL = "https://reports.example.com/" + model.ObjectPrefix(req.Kind, req.RequestID)
	return run, nil
}

func (f *fakeExecutor) Execute(_ context.Context, req *model.RunRequest) (*model.Run, error) {
	return f.do(req)
}

func (f *fakeExecutor) Submit(_ context.Context, req *model.RunRequest) (*model.Run, error) {
	run, err := f.do(req)
	if run != nil {
		run.Status = model.RunQueued
	}
	return run, err
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRepo struct {
	calls int
	ready bool
	err   error
}

func (f *fakeRepo) Sync(context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.ready = true
	return "/srv/runner/repo", nil
}

func (f *fakeRepo) Ready() bool { return f.ready }

type fakeHealth struct{ err error }

func (f fakeHealth) Healthy(context.Context) error { return f.err }

type recorder struct {
	events []hub.Event
}

func (r *recorder) Broadcast(evt hub.Event) { r.events = append(r.events, evt) }

type fixture struct {
	exec   *fakeExecutor
	repo   *fakeRepo
	runs   *store.Memory
	events *recorder
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		exec:   &fakeExecutor{},
		repo:   &fakeRepo{ready: true},
		runs:   store.NewMemory(),
		events: &recorder{},
	}
	h := New(f.exec, f.repo, f.runs, fakeHealth{}, f.events)
	r := chi.NewRouter()
	r.Mount("/api", h.Routes(testKey, "1.4.0"))
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestRunTestSuccess(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/run-test", RunTestRequest{
		RequestID:       "01HZX3K9ABCDEF",
		Project:         "shop",
		Content:         b64("*** Test Cases ***\nSmoke\n    Log    hi\n"),
		TestResultTitle: "Smoke",
		TimeoutSeconds:  90,
	}, testKey)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	require.Equal(t, true, body["success"])
	require.Equal(t, "01HZX3K9ABCDEF", body["requestId"])
	require.Equal(t, "shop", body["project"])
	require.Equal(t, "https://reports.example.com/manual-running/01HZX3K9ABCDEF", body["reportUrl"])
	require.Equal(t, "passed", body["status"])

	require.Equal(t, 1, f.exec.count())
	require.Equal(t, model.KindManual, f.exec.last.Kind)
	require.Equal(t, "*** Test Cases ***\nSmoke\n    Log    hi\n", f.exec.last.Content)
	require.Equal(t, "Smoke", f.exec.last.TestResultTitle)
	require.Equal(t, 90*time.Second, f.exec.last.Timeout)
}

func TestRunTestFailingTestsStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.exec.run = func(req *model.RunRequest) *model.Run {
		run := model.NewRun(req)
		run.Status = model.RunFailed
		run.ExitCode = 1
		run.ReportURL = "https://reports.example.com/manual-running/r1"
		return run
	}
	w := f.do(t, http.MethodPost, "/api/run-test", RunTestRequest{RequestID: "r1", Project: "shop", Content: b64("x")}, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 1, body["exitCode"])
	require.Equal(t, "https://reports.example.com/manual-running/r1", body["reportUrl"])
}

func TestRunTestMissingFields(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/run-test", map[string]string{}, testKey)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, map[string]interface{}{
		"error":   true,
		"message": "Missing required fields: requestId, project, content",
	}, decode(t, w))

	w = f.do(t, http.MethodPost, "/api/run-test", RunTestRequest{RequestID: "r1", Project: "shop"}, testKey)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Missing required fields: content", decode(t, w)["message"])

	require.Zero(t, f.exec.count())
}

func TestRunTestBadInput(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]interface{}{
		"malformed json": `{"requestId":`,
		"bad base64":     RunTestRequest{RequestID: "r1", Project: "shop", Content: "!!not-base64!!"},
		"escaping path":  RunTestRequest{RequestID: "r1", Project: "../etc", Content: b64("x")},
		"bad request id": RunTestRequest{RequestID: "../r1", Project: "shop", Content: b64("x")},
		"negative":       RunTestRequest{RequestID: "r1", Project: "shop", Content: b64("x"), TimeoutSeconds: -1},
	} {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/run-test", body, testKey)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			require.Equal(t, true, decode(t, w)["error"])
		})
	}
	require.Zero(t, f.exec.count())
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t)
	for _, key := range []string{"", "wrong", testKey + "x"} {
		for _, path := range []string{"/api/run-test", "/api/run-project-tests", "/api/refresh-repo", "/api/runs"} {
			w := f.do(t, http.MethodPost, path, RunTestRequest{RequestID: "r1", Project: "shop", Content: b64("x")}, key)
			require.Equal(t, http.StatusUnauthorized, w.Code, path)
			require.Equal(t, map[string]interface{}{
				"error":   true,
				"message": "Unauthorized: Invalid API key",
			}, decode(t, w))
		}
	}
	w := f.do(t, http.MethodGet, "/api/runs/r1", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	require.Zero(t, f.exec.count())
	require.Zero(t, f.repo.calls)
}

func TestErrorMapping(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want int
	}{
		{fmt.Errorf("requestId %q: %w", "r1", store.ErrConflict), http.StatusConflict},
		{fmt.Errorf("run: %w after 30m0s", runtime.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("prepare: %w", &model.ValidationError{Field: "project", Message: `project "x" has no test suites`}), http.StatusBadRequest},
		{executor.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("upload report.html: connection reset"), http.StatusInternalServerError},
	} {
		f := newFixture(t)
		f.exec.err = tt.err
		w := f.do(t, http.MethodPost, "/api/run-test", RunTestRequest{RequestID: "r1", Project: "shop", Content: b64("x")}, testKey)
		require.Equal(t, tt.want, w.Code, tt.err.Error())
		require.Equal(t, map[string]interface{}{"error": true, "message": tt.err.Error()}, decode(t, w))
	}
}

func TestRunProjectTests(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/run-project-tests", RunProjectRequest{RequestID: "p1", Project: "shop"}, testKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "https://reports.example.com/project-running/p1", decode(t, w)["reportUrl"])
	require.Equal(t, model.KindProject, f.exec.last.Kind)
	require.Empty(t, f.exec.last.Content)

	w = f.do(t, http.MethodPost, "/api/run-project-tests", RunProjectRequest{RequestID: "p2"}, testKey)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Missing required fields: project", decode(t, w)["message"])
}

func TestRefreshRepo(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/refresh-repo", map[string]string{}, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]interface{}{
		"success":  true,
		"message":  "Repository refreshed successfully",
		"repoPath": "/srv/runner/repo",
	}, decode(t, w))
	require.Equal(t, 1, f.repo.calls)
	require.Len(t, f.events.events, 1)
	require.Equal(t, hub.RepoRefreshed, f.events.events[0].Type)

	f.repo.err = errors.New("git clone https://github.com/acme/tests.git: authentication required")
	w = f.do(t, http.MethodPost, "/api/refresh-repo", nil, testKey)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	require.Equal(t, true, body["error"])
	require.Contains(t, body["message"], "authentication required")
}

func TestSubmitRun(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/runs", SubmitRunRequest{
		RunTestRequest: RunTestRequest{Project: "shop", Content: b64("x")},
	}, testKey)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	id, _ := body["requestId"].(string)
	_, err := uuid.Parse(id)
	require.NoError(t, err, "generated request id")
	require.Equal(t, "queued", body["status"])
	require.Equal(t, "/api/runs/"+id, body["statusUrl"])
	require.Equal(t, model.KindManual, f.exec.last.Kind)

	w = f.do(t, http.MethodPost, "/api/runs", SubmitRunRequest{
		RunTestRequest: RunTestRequest{RequestID: "p9", Project: "shop"},
	}, testKey)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, model.KindProject, f.exec.last.Kind)

	w = f.do(t, http.MethodPost, "/api/runs", SubmitRunRequest{
		Kind:           "nightly",
		RunTestRequest: RunTestRequest{RequestID: "n1", Project: "shop"},
	}, testKey)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, `unknown run kind "nightly"`, decode(t, w)["message"])
}

func TestGetAndListRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		require.NoError(t, f.runs.CreateRun(ctx, model.NewRun(&model.RunRequest{RequestID: id, Project: "shop", Kind: model.KindManual})))
	}
	require.NoError(t, f.runs.CreateRun(ctx, model.NewRun(&model.RunRequest{RequestID: "c", Project: "billing", Kind: model.KindProject})))

	w := f.do(t, http.MethodGet, "/api/runs/a", nil, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	run := decode(t, w)["run"].(map[string]interface{})
	require.Equal(t, "a", run["requestId"])
	require.NotContains(t, run, "content")

	w = f.do(t, http.MethodGet, "/api/runs/missing", nil, testKey)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "run not found", decode(t, w)["message"])

	w = f.do(t, http.MethodGet, "/api/runs?project=shop&limit=1", nil, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode(t, w)["runs"].([]interface{})
	require.Len(t, runs, 1)
	require.Equal(t, "b", runs[0].(map[string]interface{})["requestId"])

	w = f.do(t, http.MethodGet, "/api/runs?limit=lots", nil, testKey)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndVersionAreOpen(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", decode(t, w)["status"])

	f.repo.ready = false
	w = f.do(t, http.MethodGet, "/api/health", nil, "")
	body := decode(t, w)
	require.Equal(t, "degraded", body["status"])
	services := body["services"].([]interface{})
	require.Equal(t, "down", services[0].(map[string]interface{})["status"])

	w = f.do(t, http.MethodGet, "/api/version", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1.4.0", decode(t, w)["version"])
}

func TestRequireAPIKeyWebsocketQuery(t *testing.T) {
	var reached int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached++ })
	mw := RequireAPIKey(testKey)(next)

	upgrade := func(target string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		r.Header.Set("Connection", "Upgrade")
		r.Header.Set("Upgrade", "websocket")
		return r
	}

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, upgrade("/ws?apiKey="+testKey))
	assert.Equal(t, 1, reached)

	w = httptest.NewRecorder()
	mw.ServeHTTP(w, upgrade("/ws?apiKey=nope"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the query parameter is only honoured for websocket upgrades
	w = httptest.NewRecorder()
	mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?apiKey="+testKey, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 1, reached)
}

func TestRequireAPIKeyEmptyConfiguredKey(t *testing.T) {
	mw := RequireAPIKey("")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler reached with no key configured")
	}))
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("get: %w", store.ErrNotFound)))
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
