package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	verifiedCacheSize = 1024
	verifiedCacheTTL  = 5 * time.Minute
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrCredentialNotFound = errors.New("credential not found")
)

// Credential is an agent API key issued through enrollment. Only the bcrypt
// hash is stored.
type Credential struct {
	AgentID   string
	KeyHash   string
	CreatedAt time.Time
}

type CredentialRepository interface {
	// GetCredential returns ErrCredentialNotFound when the agent has none.
	GetCredential(ctx context.Context, agentID string) (Credential, error)
	// PutCredential replaces any existing credential of the agent.
	PutCredential(ctx context.Context, cred Credential) error
}

// AgentAuthenticator checks an agent id and API key against the static key ring
// and, when configured, the enrolled credentials.
type AgentAuthenticator struct {
	ring  map[string]string
	creds CredentialRepository

	// verified caches sha256(id, key) -> hash for keys whose bcrypt check
	// passed, so hashed keys are not re-checked on every call.
	verified *expirable.LRU[[32]byte, string]
}

func NewAgentAuthenticator(ring map[string]string, creds CredentialRepository) *AgentAuthenticator {
	if ring == nil {
		ring = map[string]string{}
	}
	return &AgentAuthenticator{
		ring:     ring,
		creds:    creds,
		verified: expirable.NewLRU[[32]byte, string](verifiedCacheSize, nil, verifiedCacheTTL),
	}
}

func (a *AgentAuthenticator) Authenticate(ctx context.Context, agentID, apiKey string) error {
	if agentID == "" || apiKey == "" {
		return ErrUnauthorized
	}

	if expected, ok := a.ring[agentID]; ok {
		if a.match(agentID, apiKey, expected) {
			return nil
		}
	}

	if a.creds == nil {
		return ErrUnauthorized
	}

	cred, err := a.creds.GetCredential(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("failed to load agent credential: %w", err)
	}
	if a.match(agentID, apiKey, cred.KeyHash) {
		return nil
	}
	return ErrUnauthorized
}

// Known reports whether the agent id appears in the static key ring.
func (a *AgentAuthenticator) Known(agentID string) bool {
	_, ok := a.ring[agentID]
	return ok
}

func (a *AgentAuthenticator) match(agentID, apiKey, expected string) bool {
	if !IsHashed(expected) {
		return subtle.ConstantTimeCompare([]byte(apiKey), []byte(expected)) == 1
	}

	key := verifiedKey(agentID, apiKey)
	if hash, ok := a.verified.Get(key); ok && hash == expected {
		return true
	}

	if !CheckSecret(apiKey, expected) {
		return false
	}

	a.verified.Add(key, expected)
	return true
}

func verifiedKey(agentID, apiKey string) [32]byte {
	return sha256.Sum256([]byte(agentID + "\x00" + apiKey))
}
