// Prometheus instrumentation for the attendance core. Labels are bounded:
// check-in outcomes are the closed error taxonomy, never raw error text.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// pollsCreated counts polls opened, labeled by how the duration was
	// chosen ("default" when the caller omitted it, "explicit" otherwise).
	pollsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_polls_created_total",
			Help: "Total number of attendance polls created.",
		},
		[]string{"duration_source"},
	)

	// checkins counts Submit outcomes by mode and result so dashboards can
	// watch conflict/expired rates without parsing logs.
	checkins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attendance_checkins_total",
			Help: "Total number of check-in submissions by mode and result.",
		},
		[]string{"mode", "result"},
	)

	// codeIssueRetries observes how many candidates the code issuer drew
	// before one was accepted. Anything above 1 is worth a look.
	codeIssueRetries = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attendance_code_issue_attempts",
			Help:    "Number of candidate codes drawn per successful issuance.",
			Buckets: []float64{1, 2, 3, 5, 8, 12},
		},
	)
)

func init() {
	prometheus.MustRegister(pollsCreated, checkins, codeIssueRetries)
}

// Stable result label values for the checkins counter.
const (
	resultOK             = "ok"
	resultReplayed       = "replayed"
	resultInvalidFormat  = "invalid_format"
	resultNotFound       = "not_found"
	resultExpired        = "expired"
	resultNotEnrolled    = "not_enrolled"
	resultConflict       = "conflict"
	resultInfrastructure = "infrastructure"
)
