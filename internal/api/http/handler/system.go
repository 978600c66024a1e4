package handler

import (
	"net/http"
	"time"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/gin-gonic/gin"
)

// Settings is the read-only view of server policy exposed to the dashboard.
type Settings struct {
	OfflineTimeout    time.Duration
	Approval          approval.Policy
	RedeliverAfter    time.Duration
	GRPCEnabled       bool
	EnrollmentEnabled bool
}

type SystemHandler struct {
	settings Settings
}

func NewSystemHandler(settings Settings) *SystemHandler {
	return &SystemHandler{settings: settings}
}

// Config
// GET /api/config
func (h *SystemHandler) Config(c *gin.Context) {
	resp := dto.ConfigResponse{
		OfflineTimeoutSeconds: int64(h.settings.OfflineTimeout.Seconds()),
		ApprovalTTLSeconds:    int64(h.settings.Approval.TTL.Seconds()),
		ApprovalAllowRevoke:   h.settings.Approval.AllowRevoke,
		RedeliverAfterSeconds: int64(h.settings.RedeliverAfter.Seconds()),
		StrongCommandTypes:    []string{},
		WeakCommandTypes:      []string{},
		GRPCEnabled:           h.settings.GRPCEnabled,
		EnrollmentEnabled:     h.settings.EnrollmentEnabled,
	}
	for _, t := range commands.Types() {
		if commands.IsStrong(t) {
			resp.StrongCommandTypes = append(resp.StrongCommandTypes, string(t))
		} else {
			resp.WeakCommandTypes = append(resp.WeakCommandTypes, string(t))
		}
	}
	c.JSON(http.StatusOK, resp)
}
