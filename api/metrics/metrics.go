package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "robot_runner"

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "runs_total",
		Help:      "Count of finished runs by kind and status",
	}, []string{
		"kind",
		"status",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of runs from start to last upload",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{
		"kind",
	})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "runs_in_flight",
		Help:      "Runs currently holding a run slot",
	})

	artifactUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "artifact_uploads_total",
		Help:      "Count of artifact uploads by result",
	}, []string{
		"artifact",
		"result",
	})

	repoSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "repo_syncs_total",
		Help:      "Count of repository syncs by result",
	}, []string{
		"result",
	})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "dependency_up",
		Help:      "Whether a dependency passed its last health check (1) or not (0)",
	}, []string{
		"dependency",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "errors_total",
		Help:      "Count of pipeline errors by step and error class",
	}, []string{
		"step",
		"class",
	})
)

func RecordRun(kind, status string, d time.Duration) {
	runsTotal.WithLabelValues(kind, status).Inc()
	runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func RunStarted()  { runsInFlight.Inc() }
func RunFinished() { runsInFlight.Dec() }

func RecordUpload(artifact string, err error) {
	artifactUploadsTotal.WithLabelValues(artifact, result(err)).Inc()
}

func RecordSync(err error) {
	repoSyncsTotal.WithLabelValues(result(err)).Inc()
}

func SetDependencyUp(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}

// RecordError counts a failed pipeline step. class must come from a small
// fixed set (timeout, unavailable, ...); never pass error text.
func RecordError(step, class string) {
	errorsTotal.WithLabelValues(step, class).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
