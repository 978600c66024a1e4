package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("testpassword123")
	require.NoError(t, err)

	assert.NotEqual(t, "testpassword123", hash)
	assert.True(t, IsHashed(hash))
	assert.True(t, CheckSecret("testpassword123", hash))
	assert.False(t, CheckSecret("wrongpassword", hash))
	assert.False(t, CheckSecret("", hash))
}

func TestCheckSecretKnownHash(t *testing.T) {
	// bcrypt hash of "changeme"
	hash := "$2a$10$uejoNCSLZ9YkKOZriLlSGeg0pm/nuGVS3nRuSPyYuk/Z7HJHKBhGO"

	assert.True(t, CheckSecret("changeme", hash))
	assert.False(t, CheckSecret("admin", hash))
}

func TestIsHashed(t *testing.T) {
	assert.False(t, IsHashed("plain-key"))
	assert.False(t, IsHashed(""))
	assert.True(t, IsHashed("$2b$10$abcdefghijklmnopqrstuv"))
}

func TestGenerateAPIKey(t *testing.T) {
	k1, err := GenerateAPIKey()
	require.NoError(t, err)
	k2, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k1, "ak_"))
	assert.Len(t, k1, 3+64)
	assert.NotEqual(t, k1, k2)
}
