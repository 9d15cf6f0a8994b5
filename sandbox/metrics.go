package sandbox

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets covers sub-second snippets up to the maximum timeout.
var ExecutionBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// ExecutionsTotal counts executions by outcome ("success" or an error kind).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippetbox_executions_total",
			Help: "Snippet executions",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration records wall-clock execution time in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snippetbox_execution_duration_seconds",
			Help:    "Snippet execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"outcome"},
	)

	// SecurityFindingsTotal counts gate findings by rule.
	SecurityFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippetbox_security_findings_total",
			Help: "Security gate findings",
		},
		[]string{"rule"},
	)

	// ActiveWorkers tracks live worker processes.
	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snippetbox_active_workers",
			Help: "Live worker processes",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		SecurityFindingsTotal,
		ActiveWorkers,
	)
}

func outcomeLabel(r ExecutionResult) string {
	if r.Success {
		return "success"
	}
	return string(r.ErrorKind)
}
