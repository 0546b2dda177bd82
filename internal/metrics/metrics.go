package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasktracker_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AuthEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_auth_events_total",
			Help: "Total number of authentication events",
		},
		[]string{"event"},
	)

	TaskOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_task_operations_total",
			Help: "Total number of successful task mutations",
		},
		[]string{"op"},
	)

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_backups_total",
			Help: "Total number of database backups by result",
		},
		[]string{"result"},
	)
)

const (
	AuthRegister     = "register"
	AuthLoginSuccess = "login_success"
	AuthLoginFailure = "login_failure"
	AuthLogout       = "logout"
)

func RecordAuth(event string) {
	AuthEventsTotal.WithLabelValues(event).Inc()
}

func RecordTaskOp(op string) {
	TaskOperationsTotal.WithLabelValues(op).Inc()
}

func RecordBackup(err error) {
	if err != nil {
		BackupsTotal.WithLabelValues("failure").Inc()
		return
	}
	BackupsTotal.WithLabelValues("success").Inc()
}
