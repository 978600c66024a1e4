package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/gin-gonic/gin"
)

// respondError maps domain errors onto HTTP statuses. Unknown errors are logged
// and answered with a generic message.
func respondError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, commands.ErrValidation),
		errors.Is(err, controlplane.ErrInvalidRequest),
		errors.Is(err, approval.ErrNotApprovable),
		errors.Is(err, approval.ErrActorRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, commands.ErrCommandNotFound),
		errors.Is(err, agents.ErrAgentNotFound),
		errors.Is(err, approval.ErrApprovalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrAlreadyApproved),
		errors.Is(err, approval.ErrTerminal),
		errors.Is(err, approval.ErrNotPending),
		errors.Is(err, commands.ErrPrecondition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrRevokeDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		slog.Error(msg, "error", err, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
