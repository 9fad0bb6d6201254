package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels are limited to stage, kind and outcome. Run ids and hosts stay out
// of metrics and go to logs and the delivery journal instead.

var (
	// PipelineRunsTotal counts finished runs by outcome and, for failures,
	// the failing stage and kind.
	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetdrop_pipeline_runs_total",
		Help: "Total number of pipeline runs, by outcome, failing stage and kind.",
	}, []string{"outcome", "stage", "kind"})

	// StageDuration observes how long each stage took, successful or not.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheetdrop_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"stage"})

	// SheetsComposedTotal counts sheets written into workbooks.
	SheetsComposedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheetdrop_sheets_composed_total",
		Help: "Total number of sheets written into composed workbooks.",
	})

	// BytesUploadedTotal counts artifact bytes written to remote hosts.
	BytesUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheetdrop_bytes_uploaded_total",
		Help: "Total number of artifact bytes uploaded over SFTP.",
	})

	// DeliveriesInFlight is the number of runs holding a limiter slot.
	DeliveriesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sheetdrop_deliveries_in_flight",
		Help: "Current number of pipeline runs in progress.",
	})
)

func observeStage(stage Stage, start time.Time) {
	StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func recordRun(res *Result) {
	if res.OK {
		PipelineRunsTotal.WithLabelValues("success", "", "").Inc()
		return
	}
	PipelineRunsTotal.WithLabelValues("failure", string(res.Stage), string(res.Kind)).Inc()
}
