package model

import "time"

type RunKind string

const (
	KindManual  RunKind = "manual"
	KindProject RunKind = "project"
)

// Folder is the object-store folder that holds every run of this kind.
func (k RunKind) Folder() string {
	if k == KindProject {
		return "project-running"
	}
	return "manual-running"
}

type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunPassed   RunStatus = "passed"
	RunFailed   RunStatus = "failed" // tests failed, the pipeline did not
	RunError    RunStatus = "error"  // infrastructure failure
	RunTimedOut RunStatus = "timed_out"
)

// Done reports whether the status is terminal.
func (s RunStatus) Done() bool {
	switch s {
	case RunPassed, RunFailed, RunError, RunTimedOut:
		return true
	}
	return false
}

// RunRequest asks the runner to execute inline content (KindManual) or a
// whole project directory (KindProject). Content is already decoded.
type RunRequest struct {
	RequestID       string
	Project         string
	Kind            RunKind
	Content         string
	TestResultTitle string
	Timeout         time.Duration
}

// Run is the status record of one request. It never carries test content.
type Run struct {
	RequestID  string        `json:"requestId"`
	Project    string        `json:"project"`
	Kind       RunKind       `json:"kind"`
	Title      string        `json:"testResultTitle,omitempty"`
	Status     RunStatus     `json:"status"`
	ExitCode   int           `json:"exitCode"`
	ReportURL  string        `json:"reportUrl,omitempty"`
	Error      string        `json:"error,omitempty"`
	Output     string        `json:"output,omitempty"` // console tail of a run that did not pass cleanly
	Artifacts  []ArtifactRef `json:"artifacts"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	DurationMs int64         `json:"durationMs"`
}

func NewRun(req *RunRequest) *Run {
	return &Run{
		RequestID: req.RequestID,
		Project:   req.Project,
		Kind:      req.Kind,
		Title:     req.TestResultTitle,
		Status:    RunQueued,
		ExitCode:  -1,
		Artifacts: []ArtifactRef{},
		StartedAt: time.Now(),
	}
}
