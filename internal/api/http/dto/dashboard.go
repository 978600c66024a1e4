package dto

import (
	"time"

	"github.com/EternisAI/silo-fleet/internal/approval"
)

type AgentResponse struct {
	ID                  string       `json:"id"`
	Platform            string       `json:"platform"`
	Version             string       `json:"version"`
	Online              bool         `json:"online"`
	SecondsSinceContact int64        `json:"seconds_since_contact"`
	LastContact         time.Time    `json:"last_contact"`
	FirstSeen           time.Time    `json:"first_seen"`
	Metrics             AgentMetrics `json:"metrics"`
	LastError           string       `json:"last_error,omitempty"`
	LastErrorAt         *time.Time   `json:"last_error_at,omitempty"`
	RecentErrorCount    int          `json:"recent_error_count"`
}

type ListAgentsResponse struct {
	Agents []AgentResponse `json:"agents"`
	Count  int             `json:"count"`
	Online int             `json:"online"`
}

type LogEntryResponse struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Level      string         `json:"level"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"msg"`
	Meta       map[string]any `json:"meta,omitempty"`
	Timestamp  time.Time      `json:"ts"`
	ReceivedAt time.Time      `json:"received_at"`
}

type ListLogsResponse struct {
	Logs  []LogEntryResponse `json:"logs"`
	Count int                `json:"count"`
}

type CreateCommandRequest struct {
	AgentID string         `json:"agent_id" binding:"required"`
	Type    string         `json:"type" binding:"required"`
	Payload map[string]any `json:"payload"`
}

type CommandResponse struct {
	ID               string             `json:"id"`
	AgentID          string             `json:"agent_id"`
	Type             string             `json:"type"`
	Class            string             `json:"class"`
	Payload          map[string]any     `json:"payload"`
	Status           string             `json:"status"`
	Result           map[string]any     `json:"result,omitempty"`
	CreatedBy        string             `json:"created_by,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	DeliveredAt      *time.Time         `json:"delivered_at,omitempty"`
	DeliveryCount    int                `json:"delivery_count"`
	NeedsApproval    bool               `json:"needs_approval"`
	Approved         bool               `json:"approved"`
	AwaitingApproval bool               `json:"awaiting_approval"`
	Approval         *approval.Approval `json:"approval,omitempty"`
}

type ListCommandsResponse struct {
	Commands []CommandResponse `json:"commands"`
	Count    int               `json:"count"`
}

type CancelCommandRequest struct {
	Reason string `json:"reason"`
}

// ApproveCommandRequest names the approver when the caller authenticates with
// the admin API key. Operators with a token approve as themselves.
type ApproveCommandRequest struct {
	ApprovedBy string `json:"approved_by"`
}

type AuditEventResponse struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Type      string         `json:"type"`
	RefID     string         `json:"ref_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ListAuditResponse struct {
	Events []AuditEventResponse `json:"events"`
	Count  int                  `json:"count"`
}

type ConfigResponse struct {
	OfflineTimeoutSeconds int64    `json:"offline_timeout_seconds"`
	ApprovalTTLSeconds    int64    `json:"approval_ttl_seconds"`
	ApprovalAllowRevoke   bool     `json:"approval_allow_revoke"`
	RedeliverAfterSeconds int64    `json:"redeliver_after_seconds"`
	StrongCommandTypes    []string `json:"strong_command_types"`
	WeakCommandTypes      []string `json:"weak_command_types"`
	GRPCEnabled           bool     `json:"grpc_enabled"`
	EnrollmentEnabled     bool     `json:"enrollment_enabled"`
}
