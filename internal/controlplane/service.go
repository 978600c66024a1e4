// Package controlplane implements the four agent transport operations on top
// of the liveness tracker, the command store and log shipping. The HTTP and
// gRPC transports are thin adapters around it.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/EternisAI/silo-fleet/internal/metrics"
)

const (
	OpHeartbeat = "heartbeat"
	OpShipLogs  = "logs"
	OpPull      = "pull"
	OpReport    = "report"
)

var ErrInvalidRequest = errors.New("invalid request")

type Service struct {
	agents   *agents.Service
	commands *commands.Service
	logs     *logs.Service
}

func NewService(agentSvc *agents.Service, commandSvc *commands.Service, logSvc *logs.Service) *Service {
	return &Service{
		agents:   agentSvc,
		commands: commandSvc,
		logs:     logSvc,
	}
}

func (s *Service) Heartbeat(ctx context.Context, agentID string, req dto.HeartbeatRequest) (resp dto.StatusResponse, err error) {
	defer func() { metrics.ObserveTransportCall(OpHeartbeat, err) }()

	_, err = s.agents.RecordContact(ctx, agents.Heartbeat{
		AgentID:  agentID,
		Platform: req.Platform,
		Version:  req.Version,
		Metrics:  metricsFromDTO(req.Metrics),
	})
	if err != nil {
		return dto.StatusResponse{}, err
	}
	return dto.StatusResponse{Status: dto.StatusOK}, nil
}

func (s *Service) ShipLogs(ctx context.Context, agentID string, req dto.ShipLogsRequest) (resp dto.ShipLogsResponse, err error) {
	defer func() { metrics.ObserveTransportCall(OpShipLogs, err) }()

	entries := make([]logs.Entry, len(req.Logs))
	for i, l := range req.Logs {
		entries[i] = logs.Entry{
			Level:     logs.Level(l.Level),
			Code:      l.Code,
			Message:   l.Message,
			Meta:      l.Meta,
			Timestamp: l.Timestamp,
		}
	}

	summary, err := s.logs.Ship(ctx, agentID, entries)
	if err != nil {
		if errors.Is(err, logs.ErrBatchTooLarge) {
			return dto.ShipLogsResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return dto.ShipLogsResponse{}, err
	}

	return dto.ShipLogsResponse{
		Status: dto.StatusOK,
		Count:  summary.Count,
		Errors: summary.Errors,
	}, nil
}

func (s *Service) Pull(ctx context.Context, agentID string) (resp dto.PullResponse, err error) {
	defer func() { metrics.ObserveTransportCall(OpPull, err) }()

	ready, err := s.commands.ListReady(ctx, agentID)
	if err != nil {
		return dto.PullResponse{}, err
	}

	resp.Commands = make([]dto.PulledCommand, len(ready))
	for i, cmd := range ready {
		resp.Commands[i] = dto.PulledCommand{
			ID:      cmd.ID,
			Type:    string(cmd.Type),
			Payload: cmd.Payload,
		}
	}
	return resp, nil
}

// Report applies a command result. A report for a command that is no longer
// delivered is acknowledged as ignored rather than failed.
func (s *Service) Report(ctx context.Context, agentID string, req dto.ReportRequest) (resp dto.StatusResponse, err error) {
	defer func() { metrics.ObserveTransportCall(OpReport, err) }()

	if req.CommandID == "" {
		return dto.StatusResponse{}, fmt.Errorf("%w: command_id is required", ErrInvalidRequest)
	}
	status := commands.Status(req.Status)
	if status != commands.StatusCompleted && status != commands.StatusFailed {
		return dto.StatusResponse{}, fmt.Errorf("%w: status must be completed or failed", ErrInvalidRequest)
	}

	_, err = s.commands.ApplyResult(ctx, agentID, req.CommandID, status, req.Result)
	if err != nil {
		if errors.Is(err, commands.ErrPrecondition) {
			slog.Debug("Report ignored", "agent_id", agentID, "command_id", req.CommandID)
			return dto.StatusResponse{Status: dto.StatusIgnored}, nil
		}
		return dto.StatusResponse{}, err
	}
	return dto.StatusResponse{Status: dto.StatusOK}, nil
}

func metricsFromDTO(m dto.AgentMetrics) agents.Metrics {
	out := agents.Metrics{
		CPUPercent:          m.CPUPercent,
		MemPercent:          m.MemPercent,
		DiskPercent:         m.DiskPercent,
		Mode:                m.Mode,
		Hostname:            m.Hostname,
		ConsecutiveFailures: m.ConsecutiveFailures,
	}
	for _, p := range m.Processes {
		out.Processes = append(out.Processes, agents.ProcessStatus{Name: p.Name, Running: p.Running, PID: p.PID})
	}
	return out
}

// MetricsToDTO converts stored agent metrics for dashboard responses.
func MetricsToDTO(m agents.Metrics) dto.AgentMetrics {
	out := dto.AgentMetrics{
		CPUPercent:          m.CPUPercent,
		MemPercent:          m.MemPercent,
		DiskPercent:         m.DiskPercent,
		Mode:                m.Mode,
		Hostname:            m.Hostname,
		ConsecutiveFailures: m.ConsecutiveFailures,
	}
	for _, p := range m.Processes {
		out.Processes = append(out.Processes, dto.ProcessStatus{Name: p.Name, Running: p.Running, PID: p.PID})
	}
	return out
}
