package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roombook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	conflictChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_checks_total",
			Help:      "Slot conflict checks by outcome.",
		},
		[]string{"result"},
	)

	bookingMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_mutations_total",
			Help:      "Booking create/reschedule/cancel attempts by outcome.",
		},
		[]string{"action", "outcome"},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_tasks_total",
			Help:      "Spreadsheet sync tasks by final status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, conflictChecks, bookingMutations, syncTasks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveConflictCheck(booked bool) {
	result := "available"
	if booked {
		result = "booked"
	}
	conflictChecks.WithLabelValues(result).Inc()
}

func IncBookingMutation(action, outcome string) {
	bookingMutations.WithLabelValues(action, outcome).Inc()
}

func IncSyncTask(status string) {
	syncTasks.WithLabelValues(status).Inc()
}
