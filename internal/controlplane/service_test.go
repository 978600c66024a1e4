package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/EternisAI/silo-fleet/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *Service
	agents   *agents.Service
	commands *commands.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	recorder := audit.NewRecorder(store, nil, clk)
	agentSvc := agents.NewService(store, recorder, clk, 30*time.Second)
	commandSvc := commands.NewService(store, store, approval.NewGate(approval.Policy{}), recorder, clk)
	logSvc := logs.NewService(store, agentSvc, recorder, nil, clk)
	return &fixture{
		svc:      NewService(agentSvc, commandSvc, logSvc),
		agents:   agentSvc,
		commands: commandSvc,
	}
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Heartbeat(ctx, "pc-001", dto.HeartbeatRequest{
		Platform: "linux",
		Version:  "1.0.0",
		Metrics: dto.AgentMetrics{
			CPUPercent: 12.5,
			Mode:       "NORMAL",
			Processes:  []dto.ProcessStatus{{Name: "inference", Running: true, PID: 42}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, dto.StatusOK, resp.Status)

	v, err := f.agents.Get(ctx, "pc-001")
	require.NoError(t, err)
	assert.True(t, v.Online)
	assert.Equal(t, 12.5, v.Metrics.CPUPercent)
	require.Len(t, v.Metrics.Processes, 1)
	assert.Equal(t, int32(42), v.Metrics.Processes[0].PID)

	assert.Equal(t, MetricsToDTO(v.Metrics).Processes, []dto.ProcessStatus{{Name: "inference", Running: true, PID: 42}})
}

func TestPullAndReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd, err := f.commands.Enqueue(ctx, "user:alice", "pc-001", commands.TypeSetMode, commands.Payload{"mode": "SAFE"})
	require.NoError(t, err)

	pulled, err := f.svc.Pull(ctx, "pc-001")
	require.NoError(t, err)
	require.Len(t, pulled.Commands, 1)
	assert.Equal(t, cmd.ID, pulled.Commands[0].ID)
	assert.Equal(t, "SET_MODE", pulled.Commands[0].Type)
	assert.Equal(t, "SAFE", pulled.Commands[0].Payload["mode"])

	resp, err := f.svc.Report(ctx, "pc-001", dto.ReportRequest{
		CommandID: cmd.ID,
		Status:    "completed",
		Result:    map[string]any{"success": true},
	})
	require.NoError(t, err)
	assert.Equal(t, dto.StatusOK, resp.Status)

	resp, err = f.svc.Report(ctx, "pc-001", dto.ReportRequest{CommandID: cmd.ID, Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, dto.StatusIgnored, resp.Status)

	empty, err := f.svc.Pull(ctx, "pc-001")
	require.NoError(t, err)
	assert.NotNil(t, empty.Commands)
	assert.Empty(t, empty.Commands)
}

func TestReportValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Report(ctx, "pc-001", dto.ReportRequest{Status: "completed"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Report(ctx, "pc-001", dto.ReportRequest{CommandID: "x", Status: "delivered"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Report(ctx, "pc-001", dto.ReportRequest{CommandID: "missing", Status: "completed"})
	assert.ErrorIs(t, err, commands.ErrCommandNotFound)
}

func TestShipLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.ShipLogs(ctx, "pc-001", dto.ShipLogsRequest{Logs: []dto.LogEntry{
		{Level: "INFO", Message: "ok"},
		{Level: "ERROR", Code: "E1", Message: "boom"},
	}})
	require.NoError(t, err)
	assert.Equal(t, dto.ShipLogsResponse{Status: dto.StatusOK, Count: 2, Errors: 1}, resp)

	_, err = f.svc.ShipLogs(ctx, "pc-001", dto.ShipLogsRequest{Logs: make([]dto.LogEntry, logs.MaxBatchSize+1)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, logs.ErrBatchTooLarge)
}
