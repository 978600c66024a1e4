package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/api/http/middleware"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/enrollment"
	"github.com/gin-gonic/gin"
)

// AgentHandler serves the agent transport. Every route except Enroll runs
// behind middleware.AgentAuth.
type AgentHandler struct {
	controlPlane *controlplane.Service
	enrollment   *enrollment.Service
}

func NewAgentHandler(cp *controlplane.Service, enroll *enrollment.Service) *AgentHandler {
	return &AgentHandler{
		controlPlane: cp,
		enrollment:   enroll,
	}
}

// Heartbeat
// POST /agent/heartbeat
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.controlPlane.Heartbeat(c.Request.Context(), c.GetString(middleware.KeyAgentID), req)
	if err != nil {
		respondError(c, err, "Failed to record heartbeat")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ShipLogs
// POST /agent/logs
func (h *AgentHandler) ShipLogs(c *gin.Context) {
	var req dto.ShipLogsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.controlPlane.ShipLogs(c.Request.Context(), c.GetString(middleware.KeyAgentID), req)
	if err != nil {
		respondError(c, err, "Failed to ship logs")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Pull
// GET /agent/pull
func (h *AgentHandler) Pull(c *gin.Context) {
	resp, err := h.controlPlane.Pull(c.Request.Context(), c.GetString(middleware.KeyAgentID))
	if err != nil {
		respondError(c, err, "Failed to list ready commands")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Report
// POST /agent/report
func (h *AgentHandler) Report(c *gin.Context) {
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.controlPlane.Report(c.Request.Context(), c.GetString(middleware.KeyAgentID), req)
	if err != nil {
		respondError(c, err, "Failed to apply report")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Enroll exchanges a one-time enrollment key for an agent API key.
// POST /agent/enroll
func (h *AgentHandler) Enroll(c *gin.Context) {
	if h.enrollment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "enrollment is not enabled"})
		return
	}

	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.enrollment.Enroll(c.Request.Context(), req.Key)
	if err != nil {
		if errors.Is(err, enrollment.ErrKeyNotFound) ||
			errors.Is(err, enrollment.ErrKeyExpired) ||
			errors.Is(err, enrollment.ErrKeyAlreadyUsed) {
			slog.Warn("Enrollment rejected", "error", err, "client_ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to enroll agent", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enroll agent"})
		return
	}

	c.JSON(http.StatusCreated, dto.EnrollResponse{AgentID: res.AgentID, APIKey: res.APIKey})
}
