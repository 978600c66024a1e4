package tests

import (
	"net/http"
	"testing"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createCommand(t *testing.T, env Env, headers map[string]string, agentID, typ string, payload map[string]any) dto.CommandResponse {
	t.Helper()
	rr := doJSON(env.Router, "POST", "/api/agent-commands", dto.CreateCommandRequest{
		AgentID: agentID,
		Type:    typ,
		Payload: payload,
	}, headers)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[dto.CommandResponse](t, rr)
}

func pull(t *testing.T, env Env, a agentCreds) []dto.PulledCommand {
	t.Helper()
	rr := doJSON(env.Router, "GET", "/agent/pull", nil, asAgent(a))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[dto.PullResponse](t, rr).Commands
}

func report(t *testing.T, env Env, a agentCreds, req dto.ReportRequest) *dto.StatusResponse {
	t.Helper()
	rr := doJSON(env.Router, "POST", "/agent/report", req, asAgent(a))
	if rr.Code != http.StatusOK {
		return nil
	}
	resp := decode[dto.StatusResponse](t, rr)
	return &resp
}

func TestCommandFlow(t *testing.T, env Env) {
	token := login(t, env, "alice")

	t.Run("weak command round trip", func(t *testing.T) {
		cmd := createCommand(t, env, withToken(token), "pc-001", "SET_MODE", map[string]any{"mode": "SAFE"})
		assert.Equal(t, "pending", cmd.Status)
		assert.Equal(t, "user:alice", cmd.CreatedBy)

		pulled := pull(t, env, pc1)
		require.Len(t, pulled, 1)
		assert.Equal(t, cmd.ID, pulled[0].ID)

		assert.Empty(t, pull(t, env, pc2), "commands are per agent")

		resp := report(t, env, pc1, dto.ReportRequest{CommandID: cmd.ID, Status: "completed", Result: map[string]any{"mode": "SAFE"}})
		require.NotNil(t, resp)
		assert.Equal(t, dto.StatusOK, resp.Status)

		resp = report(t, env, pc1, dto.ReportRequest{CommandID: cmd.ID, Status: "failed"})
		require.NotNil(t, resp)
		assert.Equal(t, dto.StatusIgnored, resp.Status, "terminal state never changes")

		rr := doJSON(env.Router, "GET", "/api/agent-commands/"+cmd.ID, nil, asAdmin(env))
		got := decode[dto.CommandResponse](t, rr)
		assert.Equal(t, "completed", got.Status)
		assert.Equal(t, "SAFE", got.Result["mode"])
		assert.Empty(t, pull(t, env, pc1))
	})

	t.Run("invalid commands are rejected", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/api/agent-commands", dto.CreateCommandRequest{
			AgentID: "pc-001",
			Type:    "SET_MODE",
			Payload: map[string]any{"mode": "TURBO"},
		}, withToken(token))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = doJSON(env.Router, "POST", "/api/agent-commands", dto.CreateCommandRequest{
			AgentID: "pc-001",
			Type:    "FORMAT_DISK",
		}, withToken(token))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("viewer cannot create", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/api/agent-commands", dto.CreateCommandRequest{
			AgentID: "pc-001",
			Type:    "NOTIFY_OPS",
			Payload: map[string]any{"severity": "info", "message": "hi"},
		}, withToken(login(t, env, "victor")))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("foreign report is not found", func(t *testing.T) {
		cmd := createCommand(t, env, asAdmin(env), "pc-001", "NOTIFY_OPS", map[string]any{"severity": "warning", "message": "disk"})
		require.Len(t, pull(t, env, pc1), 1)

		rr := doJSON(env.Router, "POST", "/agent/report", dto.ReportRequest{CommandID: cmd.ID, Status: "completed"}, asAgent(pc2))
		assert.Equal(t, http.StatusNotFound, rr.Code)

		resp := report(t, env, pc1, dto.ReportRequest{CommandID: cmd.ID, Status: "completed"})
		require.NotNil(t, resp)
		assert.Equal(t, dto.StatusOK, resp.Status)
	})

	t.Run("cancel pending", func(t *testing.T) {
		cmd := createCommand(t, env, withToken(token), "pc-002", "NOTIFY_OPS", map[string]any{"severity": "info", "message": "bye"})

		rr := doJSON(env.Router, "POST", "/api/agent-commands/"+cmd.ID+"/cancel", dto.CancelCommandRequest{Reason: "typo"}, withToken(token))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "failed", decode[dto.CommandResponse](t, rr).Status)
		assert.Empty(t, pull(t, env, pc2))
	})
}

func TestApprovalFlow(t *testing.T, env Env) {
	token := login(t, env, "alice")

	cmd := createCommand(t, env, withToken(token), "pc-002", "RESTART_PROCESS", map[string]any{"process": "inference"})
	assert.True(t, cmd.NeedsApproval)
	assert.True(t, cmd.AwaitingApproval)

	assert.Empty(t, pull(t, env, pc2), "strong command is held until approved")

	rr := doJSON(env.Router, "GET", "/api/approvals/pending", nil, withToken(token))
	require.Equal(t, http.StatusOK, rr.Code)
	pending := decode[dto.ListCommandsResponse](t, rr)
	ids := make([]string, 0, len(pending.Commands))
	for _, c := range pending.Commands {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, cmd.ID)

	rr = doJSON(env.Router, "POST", "/api/agent-commands/"+cmd.ID+"/approve", nil, asAdmin(env))
	assert.Equal(t, http.StatusBadRequest, rr.Code, "API key approvals must name the approver")

	rr = doJSON(env.Router, "POST", "/api/agent-commands/"+cmd.ID+"/approve", nil, withToken(token))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doJSON(env.Router, "POST", "/api/agent-commands/"+cmd.ID+"/approve", nil, withToken(token))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(env.Router, "DELETE", "/api/agent-commands/"+cmd.ID+"/approval", nil, withToken(token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, pull(t, env, pc2), "revoked approval holds the command again")

	rr = doJSON(env.Router, "POST", "/api/agent-commands/"+cmd.ID+"/approve", dto.ApproveCommandRequest{ApprovedBy: "ops-lead"}, asAdmin(env))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	pulled := pull(t, env, pc2)
	require.Len(t, pulled, 1)
	assert.Equal(t, cmd.ID, pulled[0].ID)

	resp := report(t, env, pc2, dto.ReportRequest{
		CommandID: cmd.ID,
		Status:    "failed",
		Result:    map[string]any{"success": false, "error": "command RESTART_PROCESS requires control.apply_enabled=true"},
	})
	require.NotNil(t, resp)
	assert.Equal(t, dto.StatusOK, resp.Status)

	rr = doJSON(env.Router, "POST", "/api/agent-commands/"+cmd.ID+"/approve", nil, withToken(token))
	assert.Equal(t, http.StatusConflict, rr.Code, "finished command cannot be approved")

	rr = doJSON(env.Router, "GET", "/api/audit?limit=200", nil, asAdmin(env))
	require.Equal(t, http.StatusOK, rr.Code)
	types := map[string]int{}
	for _, e := range decode[dto.ListAuditResponse](t, rr).Events {
		if e.RefID == cmd.ID {
			types[e.Type]++
		}
	}
	assert.Equal(t, 2, types["command_approved"])
	assert.Equal(t, 1, types["approval_revoked"])
}
