package handler

import (
	"log/slog"
	"net/http"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/enrollment"
	"github.com/gin-gonic/gin"
)

type EnrollmentHandler struct {
	keyStore *enrollment.KeyStore
}

func NewEnrollmentHandler(keyStore *enrollment.KeyStore) *EnrollmentHandler {
	return &EnrollmentHandler{keyStore: keyStore}
}

// CreateKey
// POST /api/enrollment-keys
func (h *EnrollmentHandler) CreateKey(c *gin.Context) {
	var req dto.CreateEnrollmentKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := agents.ValidateID(req.AgentID); err != nil {
		slog.Warn("Invalid agent ID for enrollment key", "agent_id", req.AgentID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	k, err := h.keyStore.Create(req.AgentID)
	if err != nil {
		slog.Error("Failed to create enrollment key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create enrollment key"})
		return
	}

	c.JSON(http.StatusCreated, dto.CreateEnrollmentKeyResponse{
		Key:       k.Key,
		AgentID:   k.AgentID,
		ExpiresAt: k.ExpiresAt,
	})
}

// ListKeys
// GET /api/enrollment-keys
func (h *EnrollmentHandler) ListKeys(c *gin.Context) {
	keys := h.keyStore.List()

	infos := make([]dto.EnrollmentKeyInfo, len(keys))
	for i, k := range keys {
		infos[i] = dto.EnrollmentKeyInfo{
			AgentID:   k.AgentID,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
		}
	}

	c.JSON(http.StatusOK, dto.ListEnrollmentKeysResponse{
		Keys:  infos,
		Count: len(infos),
	})
}

// RevokeKeys
// DELETE /api/enrollment-keys/:agent_id
func (h *EnrollmentHandler) RevokeKeys(c *gin.Context) {
	agentID := c.Param("agent_id")

	if removed := h.keyStore.Revoke(agentID); !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "No enrollment keys found for this agent"})
		return
	}

	slog.Info("Enrollment keys revoked", "agent_id", agentID)
	c.JSON(http.StatusOK, gin.H{"message": "Enrollment keys revoked"})
}
