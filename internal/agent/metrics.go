package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transportCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_agent_transport_calls_total",
			Help: "Transport calls made by this agent by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	consecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silo_agent_consecutive_failures",
			Help: "Current run of consecutive transport failures",
		},
	)

	modeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "silo_agent_mode",
			Help: "1 for the agent's current operating mode",
		},
		[]string{"mode"},
	)

	bufferedLogs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "silo_agent_buffered_logs",
			Help: "Log entries waiting to be shipped",
		},
	)

	commandsExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silo_agent_commands_executed_total",
			Help: "Commands handled by this agent by type and reported status",
		},
		[]string{"type", "status"},
	)
)

func observeCall(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	transportCallsTotal.WithLabelValues(op, outcome).Inc()
}

func observeState(st Status) {
	consecutiveFailures.Set(float64(st.ConsecutiveFailures))
	for _, m := range []Mode{ModeNormal, ModeSafe, ModeLocked} {
		v := 0.0
		if st.Mode == m {
			v = 1
		}
		modeGauge.WithLabelValues(string(m)).Set(v)
	}
	bufferedLogs.Set(float64(st.BufferedLogs))
}
