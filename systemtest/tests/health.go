package tests

import (
	"net/http"
	"testing"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, env Env) {
	rr := doJSON(env.Router, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[dto.HealthResponse](t, rr).Status)
}

func TestLogin(t *testing.T, env Env) {
	t.Run("success", func(t *testing.T) {
		token := login(t, env, "alice")

		claims, err := auth.ValidateToken(env.JWTSecret, token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username)
		assert.Equal(t, auth.RoleOperator, claims.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/auth/login", dto.LoginRequest{Username: "alice", Password: "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown operator", func(t *testing.T) {
		rr := doJSON(env.Router, "POST", "/auth/login", dto.LoginRequest{Username: "mallory", Password: "changeme"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
