package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middlewares.
const (
	KeyAgentID    = "agent_id"
	KeyUserID     = "user_id"
	KeyUsername   = "username"
	KeyRole       = "role"
	KeyAuthMethod = "auth_method"
)

const (
	AuthMethodToken  = "token"
	AuthMethodAPIKey = "api_key"
)

// AgentAuth authenticates agent transport calls by agent id and API key. A
// rejected call never reaches the handler, so it has no side effect.
func AgentAuth(authn *auth.AgentAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.GetHeader(dto.HeaderAgentID)
		apiKey := c.GetHeader(dto.HeaderAPIKey)

		if agentID == "" || apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing agent credentials"})
			return
		}
		if err := agents.ValidateID(agentID); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if err := authn.Authenticate(c.Request.Context(), agentID, apiKey); err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				slog.Warn("Agent authentication failed",
					"agent_id", agentID,
					"path", c.Request.URL.Path,
					"client_ip", c.ClientIP())
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			slog.Error("Agent authentication error", "error", err, "agent_id", agentID)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "authentication unavailable"})
			return
		}

		c.Set(KeyAgentID, agentID)
		c.Next()
	}
}

// OperatorAuth accepts either an operator JWT or the admin API key.
func OperatorAuth(jwtSecret, adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			if !strings.HasPrefix(header, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
				return
			}
			if jwtSecret == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token authentication is not configured"})
				return
			}

			claims, err := auth.ValidateToken(jwtSecret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}

			c.Set(KeyUserID, claims.UserID)
			c.Set(KeyUsername, claims.Username)
			c.Set(KeyRole, claims.Role)
			c.Set(KeyAuthMethod, AuthMethodToken)
			c.Next()
			return
		}

		providedKey := c.GetHeader(dto.HeaderAPIKey)
		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing credentials"})
			return
		}
		if adminAPIKey == "" {
			slog.Warn("Admin API key not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Admin API key is not configured"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(adminAPIKey)) != 1 {
			slog.Warn("Invalid API key attempt",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		c.Set(KeyRole, auth.RoleAdmin)
		c.Set(KeyAuthMethod, AuthMethodAPIKey)
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(KeyRole)
		for _, r := range roles {
			if r == userRole {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
