package enrollment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/clock"
)

type Result struct {
	AgentID string
	APIKey  string
}

// Service exchanges an enrollment key for a long-lived agent API key. Only the
// bcrypt hash of the issued key is stored.
type Service struct {
	keys  *KeyStore
	creds auth.CredentialRepository
	audit *audit.Recorder
	clock clock.Clock
}

func NewService(keys *KeyStore, creds auth.CredentialRepository, recorder *audit.Recorder, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		keys:  keys,
		creds: creds,
		audit: recorder,
		clock: clk,
	}
}

func (s *Service) Keys() *KeyStore {
	return s.keys
}

func (s *Service) Enroll(ctx context.Context, key string) (Result, error) {
	k, err := s.keys.Consume(key)
	if err != nil {
		return Result{}, err
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return Result{}, err
	}
	hash, err := auth.HashSecret(apiKey)
	if err != nil {
		return Result{}, err
	}

	err = s.creds.PutCredential(ctx, auth.Credential{
		AgentID:   k.AgentID,
		KeyHash:   hash,
		CreatedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to store agent credential: %w", err)
	}

	s.audit.Record(ctx, audit.AgentActor(k.AgentID), audit.EventAgentEnrolled, k.AgentID, nil)
	slog.Info("Agent enrolled", "agent_id", k.AgentID)

	return Result{AgentID: k.AgentID, APIKey: apiKey}, nil
}
