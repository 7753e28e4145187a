// Package metrics exposes Prometheus counters for pipeline runs and watch-folder monitors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "consent_audit"

	stageLabel   = "stage"
	resultLabel  = "result"
	outcomeLabel = "outcome"
)

var unitsProcessedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_processed_total",
		Help:      "number of clips, frames, faces and annotations processed by outcome",
	},
	[]string{stageLabel, resultLabel},
)

var runsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "number of finished pipeline runs by outcome",
	},
	[]string{outcomeLabel},
)

var activeRunsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_runs",
		Help:      "number of pipeline runs currently executing in this process",
	},
)

var clipsEnqueuedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watch_clips_enqueued_total",
		Help:      "number of clips inserted by watch-folder monitors and scans",
	},
)

var duplicateFilenamesMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watch_duplicate_filenames_total",
		Help:      "number of files skipped because the card already has a clip with that filename",
	},
)

var activeMonitorsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watch_active_monitors",
		Help:      "number of watch folders currently monitored",
	},
)

// IncUnit records one processed unit of work for a stage ("clip", "frame", "face", "annotate").
func IncUnit(stage string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	unitsProcessedMetric.With(prometheus.Labels{stageLabel: stage, resultLabel: result}).Inc()
}

// RunStarted and RunFinished bracket one orchestrator run.
func RunStarted() {
	activeRunsMetric.Inc()
}

func RunFinished(outcome string) {
	activeRunsMetric.Dec()
	runsTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func AddClipsEnqueued(n int) {
	clipsEnqueuedMetric.Add(float64(n))
}

func AddDuplicateFilenames(n int) {
	duplicateFilenamesMetric.Add(float64(n))
}

func SetActiveMonitors(n int) {
	activeMonitorsMetric.Set(float64(n))
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(unitsProcessedMetric)
	prometheus.MustRegister(runsTotalMetric)
	prometheus.MustRegister(activeRunsMetric)
	prometheus.MustRegister(clipsEnqueuedMetric)
	prometheus.MustRegister(duplicateFilenamesMetric)
	prometheus.MustRegister(activeMonitorsMetric)
}
