package tests

import (
	"net/http"
	"testing"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentLifecycle(t *testing.T, env Env) {
	t.Run("rejected heartbeat has no side effect", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/agent/heartbeat", dto.HeartbeatRequest{Platform: "linux"},
			asAgent(agentCreds{id: "pc-001", key: "wrong"}))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = doJSON(env.Router, "GET", "/api/agents/pc-001", nil, asAdmin(env))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("heartbeat registers the agent", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/agent/heartbeat", dto.HeartbeatRequest{
			Platform: "linux",
			Version:  "1.2.0",
			Metrics:  dto.AgentMetrics{CPUPercent: 12.5, Mode: "NORMAL", Hostname: "edge-1"},
		}, asAgent(pc1))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = doJSON(env.Router, "GET", "/api/agents/pc-001", nil, asAdmin(env))
		require.Equal(t, http.StatusOK, rr.Code)
		agent := decode[dto.AgentResponse](t, rr)
		assert.True(t, agent.Online)
		assert.Equal(t, "1.2.0", agent.Version)
		assert.Equal(t, "edge-1", agent.Metrics.Hostname)
		assert.InDelta(t, 12.5, agent.Metrics.CPUPercent, 0.001)
	})

	t.Run("error logs update last error", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/agent/logs", dto.ShipLogsRequest{Logs: []dto.LogEntry{
			{Level: "INFO", Message: "started"},
			{Level: "FATAL", Code: "E17", Message: "inference crashed"},
		}}, asAgent(pc1))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		resp := decode[dto.ShipLogsResponse](t, rr)
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, 1, resp.Errors)

		rr = doJSON(env.Router, "GET", "/api/agents/pc-001", nil, asAdmin(env))
		agent := decode[dto.AgentResponse](t, rr)
		assert.Equal(t, "inference crashed", agent.LastError)
		assert.Equal(t, 1, agent.RecentErrorCount)

		rr = doJSON(env.Router, "GET", "/api/agents/pc-001/logs?level=CRITICAL", nil, asAdmin(env))
		require.Equal(t, http.StatusOK, rr.Code)
		list := decode[dto.ListLogsResponse](t, rr)
		require.Len(t, list.Logs, 1)
		assert.Equal(t, "E17", list.Logs[0].Code)
	})

	t.Run("agents list counts online", func(t *testing.T) {
		rr := doJSON(env.Router, "GET", "/api/agents", nil, asAdmin(env))
		require.Equal(t, http.StatusOK, rr.Code)
		list := decode[dto.ListAgentsResponse](t, rr)
		assert.GreaterOrEqual(t, list.Online, 1)
	})
}
