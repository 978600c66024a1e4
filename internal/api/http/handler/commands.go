package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/api/http/middleware"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/gin-gonic/gin"
)

type CommandsHandler struct {
	commandService *commands.Service
}

func NewCommandsHandler(commandService *commands.Service) *CommandsHandler {
	return &CommandsHandler{commandService: commandService}
}

// ListCommands
// GET /api/agent-commands?agent_id=&status=&limit=
func (h *CommandsHandler) ListCommands(c *gin.Context) {
	filter := commands.Filter{AgentID: c.Query("agent_id")}
	if raw := c.Query("status"); raw != "" {
		status := commands.Status(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	views, err := h.commandService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to list commands")
		return
	}
	c.JSON(http.StatusOK, toListCommandsResponse(views))
}

// CreateCommand queues a command for one agent
// POST /api/agent-commands
func (h *CommandsHandler) CreateCommand(c *gin.Context) {
	var req dto.CreateCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := h.commandService.Enqueue(c.Request.Context(), actor(c), req.AgentID, commands.Type(req.Type), req.Payload)
	if err != nil {
		respondError(c, err, "Failed to create command")
		return
	}

	view, err := h.commandService.Get(c.Request.Context(), cmd.ID)
	if err != nil {
		respondError(c, err, "Failed to load created command")
		return
	}
	c.JSON(http.StatusCreated, toCommandResponse(view))
}

// GetCommand
// GET /api/agent-commands/:id
func (h *CommandsHandler) GetCommand(c *gin.Context) {
	view, err := h.commandService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get command")
		return
	}
	c.JSON(http.StatusOK, toCommandResponse(view))
}

// CancelCommand fails a command that has not been delivered
// POST /api/agent-commands/:id/cancel
func (h *CommandsHandler) CancelCommand(c *gin.Context) {
	var req dto.CancelCommandRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	_, err := h.commandService.Cancel(c.Request.Context(), actor(c), c.Param("id"), req.Reason)
	if err != nil {
		if errors.Is(err, commands.ErrPrecondition) {
			c.JSON(http.StatusConflict, gin.H{"error": "only pending commands can be cancelled"})
			return
		}
		respondError(c, err, "Failed to cancel command")
		return
	}

	view, err := h.commandService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load cancelled command")
		return
	}
	c.JSON(http.StatusOK, toCommandResponse(view))
}

// ApproveCommand records the human approval a strong command needs
// POST /api/agent-commands/:id/approve
func (h *CommandsHandler) ApproveCommand(c *gin.Context) {
	approver := c.GetString(middleware.KeyUsername)
	if c.GetString(middleware.KeyAuthMethod) == middleware.AuthMethodAPIKey {
		var req dto.ApproveCommandRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		approver = req.ApprovedBy
	}

	a, err := h.commandService.Approve(c.Request.Context(), approver, c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to approve command")
		return
	}

	slog.Info("Command approval recorded", "command_id", a.CommandID, "approved_by", a.ApprovedBy)
	c.JSON(http.StatusCreated, a)
}

// RevokeApproval withdraws an approval while the command is still pending
// DELETE /api/agent-commands/:id/approval
func (h *CommandsHandler) RevokeApproval(c *gin.Context) {
	if err := h.commandService.RevokeApproval(c.Request.Context(), actorName(c), c.Param("id")); err != nil {
		respondError(c, err, "Failed to revoke approval")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "approval revoked"})
}

// PendingApprovals lists strong commands that are waiting for an approval
// GET /api/approvals/pending
func (h *CommandsHandler) PendingApprovals(c *gin.Context) {
	views, err := h.commandService.PendingApprovals(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to list pending approvals")
		return
	}
	c.JSON(http.StatusOK, toListCommandsResponse(views))
}

// actor is the audit identity of the operator making the request.
func actor(c *gin.Context) string {
	if name := c.GetString(middleware.KeyUsername); name != "" {
		return audit.UserActor(name)
	}
	return "admin_api_key"
}

func actorName(c *gin.Context) string {
	if name := c.GetString(middleware.KeyUsername); name != "" {
		return name
	}
	return "admin_api_key"
}

func toCommandResponse(v commands.View) dto.CommandResponse {
	return dto.CommandResponse{
		ID:               v.ID,
		AgentID:          v.AgentID,
		Type:             string(v.Type),
		Class:            string(v.Class()),
		Payload:          v.Payload,
		Status:           string(v.Status),
		Result:           v.Result,
		CreatedBy:        v.CreatedBy,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
		DeliveredAt:      v.DeliveredAt,
		DeliveryCount:    v.DeliveryCount,
		NeedsApproval:    v.NeedsApproval,
		Approved:         v.Approved,
		AwaitingApproval: v.AwaitingApproval,
		Approval:         v.Approval,
	}
}

func toListCommandsResponse(views []commands.View) dto.ListCommandsResponse {
	resp := dto.ListCommandsResponse{Commands: make([]dto.CommandResponse, len(views)), Count: len(views)}
	for i, v := range views {
		resp.Commands[i] = toCommandResponse(v)
	}
	return resp
}

