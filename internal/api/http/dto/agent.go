package dto

import "time"

// Agent credentials travel in these headers on every agent call.
const (
	HeaderAgentID = "X-Agent-ID"
	HeaderAPIKey  = "X-API-Key"
)

const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
)

type ProcessStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int32  `json:"pid,omitempty"`
}

type AgentMetrics struct {
	CPUPercent          float64         `json:"cpu_percent"`
	MemPercent          float64         `json:"mem_percent"`
	DiskPercent         float64         `json:"disk_percent"`
	Mode                string          `json:"mode,omitempty"`
	Hostname            string          `json:"hostname,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures,omitempty"`
	Processes           []ProcessStatus `json:"processes,omitempty"`
}

type HeartbeatRequest struct {
	Platform string       `json:"platform"`
	Version  string       `json:"version"`
	Metrics  AgentMetrics `json:"metrics"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type LogEntry struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"msg"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type ShipLogsRequest struct {
	Logs []LogEntry `json:"logs"`
}

type ShipLogsResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
	Errors int    `json:"errors"`
}

type PulledCommand struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type PullResponse struct {
	Commands []PulledCommand `json:"commands"`
}

type ReportRequest struct {
	CommandID string         `json:"command_id"`
	Status    string         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
}

type EnrollRequest struct {
	Key string `json:"key" binding:"required"`
}

type EnrollResponse struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}
