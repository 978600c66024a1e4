package audit

import (
	"context"
	"time"
)

type EventType string

const (
	EventAgentHeartbeat   EventType = "agent_heartbeat"
	EventAgentLogs        EventType = "agent_logs"
	EventAgentPull        EventType = "agent_pull"
	EventAgentReport      EventType = "agent_report"
	EventAgentEnrolled    EventType = "agent_enrolled"
	EventReportRejected   EventType = "report_rejected"
	EventCommandCreated   EventType = "command_created"
	EventCommandApproved  EventType = "command_approved"
	EventApprovalRejected EventType = "approval_rejected"
	EventApprovalRevoked  EventType = "approval_revoked"
	EventCommandCancelled EventType = "command_cancelled"
	EventCommandRejected  EventType = "command_rejected"
	EventCommandRequeued  EventType = "command_requeued"
)

const SystemActor = "system"

type Event struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Type      EventType      `json:"type"`
	RefID     string         `json:"ref_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Repository interface {
	AppendEvent(ctx context.Context, event Event) error
	ListEvents(ctx context.Context, limit int) ([]Event, error)
}

func AgentActor(agentID string) string {
	return "agent:" + agentID
}

func UserActor(username string) string {
	return "user:" + username
}
