package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const agentColumns = `id, platform, version, metrics, last_contact, last_error, last_error_at, first_seen`

func scanAgent(row pgx.Row) (agents.Agent, error) {
	var (
		a           agents.Agent
		metrics     []byte
		lastErrorAt pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.Platform, &a.Version, &metrics, &a.LastContact, &a.LastError, &lastErrorAt, &a.FirstSeen)
	if err != nil {
		return agents.Agent{}, err
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &a.Metrics); err != nil {
			return agents.Agent{}, fmt.Errorf("failed to decode agent metrics: %w", err)
		}
	}
	a.LastContact = a.LastContact.UTC()
	a.FirstSeen = a.FirstSeen.UTC()
	a.LastErrorAt = fromTimestamptz(lastErrorAt)
	return a, nil
}

func (s *Store) UpsertAgent(ctx context.Context, a agents.Agent) (agents.Agent, error) {
	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return agents.Agent{}, fmt.Errorf("failed to encode agent metrics: %w", err)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO agents (id, platform, version, metrics, last_contact, first_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			platform = EXCLUDED.platform,
			version = EXCLUDED.version,
			metrics = EXCLUDED.metrics,
			last_contact = EXCLUDED.last_contact
		RETURNING `+agentColumns,
		a.ID, a.Platform, a.Version, metrics, a.LastContact, a.FirstSeen)

	agent, err := scanAgent(row)
	if err != nil {
		return agents.Agent{}, fmt.Errorf("upsert agent: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (agents.Agent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return agents.Agent{}, agents.ErrAgentNotFound
		}
		return agents.Agent{}, fmt.Errorf("query agent: %w", err)
	}
	return agent, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agents.Agent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var result []agents.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) SetAgentLastError(ctx context.Context, agentID string, message string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE agents SET last_error = $2, last_error_at = $3 WHERE id = $1`,
		agentID, message, at)
	if err != nil {
		return fmt.Errorf("update agent last error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return agents.ErrAgentNotFound
	}
	return nil
}
