package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/gin-gonic/gin"
)

const recentErrorWindow = 100

type AgentsHandler struct {
	agentService *agents.Service
	logService   *logs.Service
}

func NewAgentsHandler(agentService *agents.Service, logService *logs.Service) *AgentsHandler {
	return &AgentsHandler{
		agentService: agentService,
		logService:   logService,
	}
}

// ListAgents returns every known agent with its derived liveness
// GET /api/agents
func (h *AgentsHandler) ListAgents(c *gin.Context) {
	list, err := h.agentService.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}

	resp := dto.ListAgentsResponse{Agents: make([]dto.AgentResponse, len(list))}
	for i, v := range list {
		resp.Agents[i] = toAgentResponse(v)
		if v.Online {
			resp.Online++
		}
	}
	resp.Count = len(list)

	c.JSON(http.StatusOK, resp)
}

// GetAgent returns one agent and how many of its recent log entries are errors
// GET /api/agents/:id
func (h *AgentsHandler) GetAgent(c *gin.Context) {
	agentID := c.Param("id")

	v, err := h.agentService.Get(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to get agent", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get agent"})
		return
	}

	resp := toAgentResponse(v)
	recent, err := h.logService.Recent(c.Request.Context(), logs.Query{
		AgentID:    agentID,
		ErrorsOnly: true,
		Limit:      recentErrorWindow,
	})
	if err != nil {
		slog.Warn("Failed to count recent errors", "error", err, "agent_id", agentID)
	} else {
		resp.RecentErrorCount = len(recent)
	}

	c.JSON(http.StatusOK, resp)
}

// ListAgentLogs
// GET /api/agents/:id/logs?level=&errors_only=&limit=
func (h *AgentsHandler) ListAgentLogs(c *gin.Context) {
	q := logs.Query{AgentID: c.Param("id")}
	if level := c.Query("level"); level != "" {
		q.Level = logs.NormalizeLevel(level)
	}
	q.ErrorsOnly = c.Query("errors_only") == "true"
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = limit
	}

	entries, err := h.logService.Recent(c.Request.Context(), q)
	if err != nil {
		slog.Error("Failed to list logs", "error", err, "agent_id", q.AgentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}

	resp := dto.ListLogsResponse{Logs: make([]dto.LogEntryResponse, len(entries)), Count: len(entries)}
	for i, e := range entries {
		resp.Logs[i] = dto.LogEntryResponse{
			ID:         e.ID,
			AgentID:    e.AgentID,
			Level:      string(e.Level),
			Code:       e.Code,
			Message:    e.Message,
			Meta:       e.Meta,
			Timestamp:  e.Timestamp,
			ReceivedAt: e.ReceivedAt,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func toAgentResponse(v agents.View) dto.AgentResponse {
	return dto.AgentResponse{
		ID:                  v.ID,
		Platform:            v.Platform,
		Version:             v.Version,
		Online:              v.Online,
		SecondsSinceContact: int64(v.SinceContact.Seconds()),
		LastContact:         v.LastContact,
		FirstSeen:           v.FirstSeen,
		Metrics:             controlplane.MetricsToDTO(v.Metrics),
		LastError:           v.LastError,
		LastErrorAt:         v.LastErrorAt,
	}
}
