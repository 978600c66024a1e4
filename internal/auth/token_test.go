package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := JWTConfig{Secret: "test-secret", Expiry: time.Hour}

	token, err := GenerateToken(cfg, "op-1", "alice", RoleAdmin)
	require.NoError(t, err)

	claims, err := ValidateToken("test-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(JWTConfig{Secret: "a"}, "op-1", "alice", RoleOperator)
	require.NoError(t, err)

	_, err = ValidateToken("b", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	token, err := GenerateToken(JWTConfig{Secret: "s", Expiry: -time.Minute}, "op-1", "alice", RoleOperator)
	require.NoError(t, err)

	_, err = ValidateToken("s", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateTokenWithoutSecret(t *testing.T) {
	_, err := GenerateToken(JWTConfig{}, "op-1", "alice", RoleOperator)
	assert.Error(t, err)
}
