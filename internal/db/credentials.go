package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetCredential(ctx context.Context, agentID string) (auth.Credential, error) {
	var c auth.Credential
	err := s.db.QueryRow(ctx,
		`SELECT agent_id, key_hash, created_at FROM agent_credentials WHERE agent_id = $1`,
		agentID).Scan(&c.AgentID, &c.KeyHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Credential{}, auth.ErrCredentialNotFound
		}
		return auth.Credential{}, fmt.Errorf("query credential: %w", err)
	}
	return c, nil
}

func (s *Store) PutCredential(ctx context.Context, cred auth.Credential) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_credentials (agent_id, key_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			created_at = EXCLUDED.created_at`,
		cred.AgentID, cred.KeyHash, cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}
