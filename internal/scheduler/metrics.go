package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/outletwatch/internal/model"
)

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outletwatch_attempts_total",
			Help: "Total number of checker attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outletwatch_tasks_total",
			Help: "Total number of resolved outlet checks by result kind.",
		},
		[]string{"label"},
	)

	taskWaitTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outletwatch_task_wait_timeouts_total",
			Help: "Total number of per-outlet waits that ran out before the check committed.",
		},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outletwatch_tasks_in_flight",
			Help: "Number of outlet checks currently running.",
		},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outletwatch_batch_duration_seconds",
			Help:    "Wall-clock duration of a scheduler batch in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1500},
		},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskWaitTimeouts)
	prometheus.MustRegister(tasksInFlight)
	prometheus.MustRegister(batchDuration)
}

// resultLabel keeps the tasks_total cardinality bounded: genuine statuses are
// free text, so they are folded into a single "status" label.
func resultLabel(status string) string {
	switch status {
	case model.LabelUnknown:
		return "unknown"
	case model.LabelSelectFailed:
		return "select_failed"
	case model.LabelCheckFailed:
		return "check_failed"
	default:
		return "status"
	}
}
