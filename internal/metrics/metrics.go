// Package metrics exposes prometheus collectors for the scheduling
// control loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkflowsByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "socm_workflows_by_state",
		Help: "Number of workflows currently in each lifecycle state.",
	}, []string{"state"})

	CampaignsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socm_campaigns_total",
		Help: "Campaigns run, by final state.",
	}, []string{"state"})

	PlanningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "socm_planning_duration_seconds",
		Help:    "Time spent computing a campaign's plan.",
		Buckets: prometheus.DefBuckets,
	})

	WorkflowsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socm_workflows_submitted_total",
		Help: "Workflows handed to the enactor for execution.",
	})

	WorkflowsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socm_workflows_failed_total",
		Help: "Workflows that reached the Failed state.",
	})

	DeadlineViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socm_deadline_violations_total",
		Help: "Times the work loop observed the objective could not be met.",
	})

	SubmitRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socm_submit_retries_total",
		Help: "SubmitError occurrences retried on the following tick.",
	})
)

func init() {
	prometheus.MustRegister(
		WorkflowsByState,
		CampaignsTotal,
		PlanningDuration,
		WorkflowsSubmitted,
		WorkflowsFailed,
		DeadlineViolations,
		SubmitRetries,
	)
}

// Handler exposes the collectors over HTTP for scraping.
func Handler() http.Handler { return promhttp.Handler() }

// Timer measures an operation's duration and observes it into a
// histogram, mirroring warren's pkg/metrics.Timer.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
