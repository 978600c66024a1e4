package handler

import (
	"net/http"
	"strconv"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	recorder *audit.Recorder
}

func NewAuditHandler(recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// ListEvents returns the newest audit events first
// GET /api/audit?limit=
func (h *AuditHandler) ListEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	events, err := h.recorder.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, "Failed to list audit events")
		return
	}

	resp := dto.ListAuditResponse{Events: make([]dto.AuditEventResponse, len(events)), Count: len(events)}
	for i, e := range events {
		resp.Events[i] = dto.AuditEventResponse{
			ID:        e.ID,
			Actor:     e.Actor,
			Type:      string(e.Type),
			RefID:     e.RefID,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, resp)
}
