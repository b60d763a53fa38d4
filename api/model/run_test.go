package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStatuses(t *testing.T) {
	statuses := []RunStatus{RunQueued, RunRunning, RunPassed, RunFailed, RunError, RunTimedOut}

	seen := map[RunStatus]bool{}
	for _, s := range statuses {
		require.False(t, seen[s], "duplicate status %q", s)
		seen[s] = true
	}

	require.False(t, RunQueued.Done())
	require.False(t, RunRunning.Done())
	require.True(t, RunPassed.Done())
	require.True(t, RunFailed.Done())
	require.True(t, RunError.Done())
	require.True(t, RunTimedOut.Done())
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "manual-running/01JABC/report.html", ObjectKey(KindManual, "01JABC", ReportFile))
	require.Equal(t, "project-running/01JABC/output.xml", ObjectKey(KindProject, "01JABC", OutputFile))
	require.Equal(t, "manual-running/01JABC", ObjectPrefix(KindManual, "01JABC"))
	require.Equal(t, "manual-running", RunKind("").Folder())
}

func TestNewRun(t *testing.T) {
	run := NewRun(&RunRequest{RequestID: "r1", Project: "shop", Kind: KindManual, Content: "x", TestResultTitle: "smoke"})
	require.Equal(t, RunQueued, run.Status)
	require.Equal(t, -1, run.ExitCode)
	require.Equal(t, "smoke", run.Title)
	require.NotNil(t, run.Artifacts)
	require.Nil(t, run.FinishedAt)
}

func TestValidate(t *testing.T) {
	valid := func() *RunRequest {
		return &RunRequest{RequestID: "01J8ZQ4Y7A", Project: "shop", Kind: KindManual, Content: "*** Test Cases ***"}
	}

	for _, tc := range []struct {
		name    string
		mutate  func(r *RunRequest)
		wantErr string
	}{
		{"valid", func(r *RunRequest) {}, ""},
		{"nested project", func(r *RunRequest) { r.Project = "team/shop" }, ""},
		{"project run needs no content", func(r *RunRequest) { r.Kind = KindProject; r.Content = "" }, ""},
		{"missing request id", func(r *RunRequest) { r.RequestID = "" }, "Missing required fields: requestId"},
		{"missing everything", func(r *RunRequest) { *r = RunRequest{Kind: KindManual} }, "Missing required fields: requestId, project, content"},
		{"missing content", func(r *RunRequest) { r.Content = "" }, "Missing required fields: content"},
		{"unknown kind", func(r *RunRequest) { r.Kind = "nightly" }, `unknown run kind "nightly"`},
		{"request id with slash", func(r *RunRequest) { r.RequestID = "a/b" }, `invalid requestId "a/b"`},
		{"absolute project", func(r *RunRequest) { r.Project = "/etc" }, "project must be a relative path"},
		{"escaping project", func(r *RunRequest) { r.Project = "../secrets" }, `project "../secrets" is outside the test root`},
		{"dot project", func(r *RunRequest) { r.Project = "shop/.." }, `project "shop/.." is outside the test root`},
		{"hidden project", func(r *RunRequest) { r.Project = ".git" }, `project ".git" contains a hidden path segment`},
		{"negative timeout", func(r *RunRequest) { r.Timeout = -time.Second }, "timeoutSeconds must not be negative"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(req)
			err := req.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.wantErr)
			require.True(t, IsValidation(err))
		})
	}
}
