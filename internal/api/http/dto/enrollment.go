package dto

import "time"

type CreateEnrollmentKeyRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

type CreateEnrollmentKeyResponse struct {
	Key       string    `json:"key"`
	AgentID   string    `json:"agent_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type EnrollmentKeyInfo struct {
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ListEnrollmentKeysResponse struct {
	Keys  []EnrollmentKeyInfo `json:"keys"`
	Count int                 `json:"count"`
}
