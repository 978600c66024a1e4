package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_fleet_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "silo_fleet_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	transportCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_fleet_transport_calls_total",
			Help: "Agent transport calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	commandsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_fleet_commands_enqueued_total",
			Help: "Commands accepted into the queue by type",
		},
		[]string{"type"},
	)

	commandTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_fleet_command_transitions_total",
			Help: "Command status transitions",
		},
		[]string{"from", "to"},
	)

	reportsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "silo_fleet_reports_rejected_total",
			Help: "Agent reports discarded because the command was not delivered",
		},
	)

	approvalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_fleet_approvals_total",
			Help: "Approval decisions by outcome",
		},
		[]string{"outcome"},
	)

	agentsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silo_fleet_agents_online",
			Help: "Agents whose last contact is within the offline timeout",
		},
	)

	logEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_fleet_log_entries_total",
			Help: "Log entries shipped by agents by level",
		},
		[]string{"level"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func ObserveTransportCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	transportCallsTotal.WithLabelValues(operation, outcome).Inc()
}

func ObserveCommandEnqueued(commandType string) {
	commandsEnqueuedTotal.WithLabelValues(commandType).Inc()
}

func ObserveCommandTransition(from, to string) {
	commandTransitionsTotal.WithLabelValues(from, to).Inc()
}

func ObserveReportRejected() {
	reportsRejectedTotal.Inc()
}

func ObserveApproval(outcome string) {
	approvalsTotal.WithLabelValues(outcome).Inc()
}

func SetAgentsOnline(n int) {
	agentsOnline.Set(float64(n))
}

func ObserveLogEntry(level string) {
	logEntriesTotal.WithLabelValues(level).Inc()
}
