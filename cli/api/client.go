package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const apiKeyHeader = "x-api-key"

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		// Synchronous runs can take as long as the tests do; callers bound
		// each request with a context instead.
		HTTPClient: &http.Client{},
	}
}

// Error is a non-2xx answer from the runner.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

type Artifact struct {
	Name        string `json:"name"`
	Object      string `json:"object"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

type RunResult struct {
	Success   bool       `json:"success"`
	RequestID string     `json:"requestId"`
	Project   string     `json:"project"`
	ReportURL string     `json:"reportUrl"`
	Status    string     `json:"status"`
	ExitCode  int        `json:"exitCode"`
	Artifacts []Artifact `json:"artifacts"`
}

type RunTestRequest struct {
	RequestID       string `json:"requestId"`
	Project         string `json:"project"`
	Content         string `json:"content"`
	TestResultTitle string `json:"testResultTitle,omitempty"`
	TimeoutSeconds  int    `json:"timeoutSeconds,omitempty"`
}

type RunProjectRequest struct {
	RequestID      string `json:"requestId"`
	Project        string `json:"project"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type SubmitRequest struct {
	Kind string `json:"kind,omitempty"`
	RunTestRequest
}

type Submitted struct {
	RequestID string `json:"requestId"`
	Project   string `json:"project"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

type Run struct {
	RequestID  string     `json:"requestId"`
	Project    string     `json:"project"`
	Kind       string     `json:"kind"`
	Title      string     `json:"testResultTitle"`
	Status     string     `json:"status"`
	ExitCode   int        `json:"exitCode"`
	ReportURL  string     `json:"reportUrl"`
	Error      string     `json:"error"`
	Output     string     `json:"output"`
	Artifacts  []Artifact `json:"artifacts"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`
	DurationMs int64      `json:"durationMs"`
}

// Done reports whether the run reached a terminal status.
func (r *Run) Done() bool {
	switch r.Status {
	case "passed", "failed", "error", "timed_out":
		return true
	}
	return false
}

type RefreshResult struct {
	Message  string `json:"message"`
	RepoPath string `json:"repoPath"`
}

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details"`
}

type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

func (c *Client) RunTest(ctx context.Context, req RunTestRequest) (*RunResult, error) {
	var res RunResult
	if err := c.post(ctx, "/api/run-test", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) RunProjectTests(ctx context.Context, req RunProjectRequest) (*RunResult, error) {
	var res RunResult
	if err := c.post(ctx, "/api/run-project-tests", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SubmitRun(ctx context.Context, req SubmitRequest) (*Submitted, error) {
	var res Submitted
	if err := c.post(ctx, "/api/runs", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetRun(ctx context.Context, requestID string) (*Run, error) {
	var res struct {
		Run Run `json:"run"`
	}
	if err := c.get(ctx, "/api/runs/"+url.PathEscape(requestID), &res); err != nil {
		return nil, err
	}
	return &res.Run, nil
}

func (c *Client) ListRuns(ctx context.Context, project string, limit int) ([]Run, error) {
	q := url.Values{}
	if project != "" {
		q.Set("project", project)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res struct {
		Runs []Run `json:"runs"`
	}
	if err := c.get(ctx, path, &res); err != nil {
		return nil, err
	}
	return res.Runs, nil
}

func (c *Client) RefreshRepo(ctx context.Context) (*RefreshResult, error) {
	var res RefreshResult
	if err := c.post(ctx, "/api/refresh-repo", struct{}{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, "/api/version", &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

func (c *Client) post(ctx context.Context, path string, body, v any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v any) error {
	if c.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		var envelope struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &envelope) == nil && envelope.Message != "" {
			msg = envelope.Message
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) WebSocketURL() string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + "/ws"
}
