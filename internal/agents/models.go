package agents

import (
	"context"
	"time"
)

// Metrics is the snapshot an agent attaches to each heartbeat.
type Metrics struct {
	CPUPercent          float64         `json:"cpu_percent"`
	MemPercent          float64         `json:"mem_percent"`
	DiskPercent         float64         `json:"disk_percent"`
	Mode                string          `json:"mode,omitempty"`
	Hostname            string          `json:"hostname,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures,omitempty"`
	Processes           []ProcessStatus `json:"processes,omitempty"`
}

type ProcessStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int32  `json:"pid,omitempty"`
}

type Agent struct {
	ID          string
	Platform    string
	Version     string
	Metrics     Metrics
	LastContact time.Time
	LastError   string
	LastErrorAt *time.Time
	FirstSeen   time.Time
}

type Heartbeat struct {
	AgentID  string
	Platform string
	Version  string
	Metrics  Metrics
}

// Liveness is derived from the last contact time on every read and never stored.
type Liveness struct {
	Online       bool
	SinceContact time.Duration
}

type View struct {
	Agent
	Liveness
}

type Repository interface {
	// UpsertAgent inserts the agent or refreshes platform, version, metrics and
	// last contact. FirstSeen is kept from the existing row.
	UpsertAgent(ctx context.Context, agent Agent) (Agent, error)
	GetAgent(ctx context.Context, agentID string) (Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	SetAgentLastError(ctx context.Context, agentID string, message string, at time.Time) error
}
