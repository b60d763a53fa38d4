package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("manual", "passed"))
	RecordRun("manual", "passed", 2*time.Second)
	require.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("manual", "passed")))
}

func TestRunsInFlight(t *testing.T) {
	start := testutil.ToFloat64(runsInFlight)
	RunStarted()
	RunStarted()
	RunFinished()
	require.Equal(t, start+1, testutil.ToFloat64(runsInFlight))
	RunFinished()
}

func TestRecordUploadAndSync(t *testing.T) {
	ok := testutil.ToFloat64(artifactUploadsTotal.WithLabelValues("report.html", "success"))
	RecordUpload("report.html", nil)
	RecordUpload("report.html", errors.New("boom"))
	require.Equal(t, ok+1, testutil.ToFloat64(artifactUploadsTotal.WithLabelValues("report.html", "success")))

	failed := testutil.ToFloat64(repoSyncsTotal.WithLabelValues("error"))
	RecordSync(errors.New("clone failed"))
	require.Equal(t, failed+1, testutil.ToFloat64(repoSyncsTotal.WithLabelValues("error")))
}

func TestRecordError(t *testing.T) {
	before := testutil.ToFloat64(errorsTotal.WithLabelValues("upload", "upload"))
	RecordError("upload", "upload")
	RecordError("upload", "upload")
	require.Equal(t, before+2, testutil.ToFloat64(errorsTotal.WithLabelValues("upload", "upload")))
}

func TestSetDependencyUp(t *testing.T) {
	SetDependencyUp("storage", true)
	require.Equal(t, 1.0, testutil.ToFloat64(dependencyUp.WithLabelValues("storage")))
	SetDependencyUp("storage", false)
	require.Equal(t, 0.0, testutil.ToFloat64(dependencyUp.WithLabelValues("storage")))
}
