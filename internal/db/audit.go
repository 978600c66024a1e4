package db

import (
	"context"
	"fmt"

	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/jackc/pgx/v5/pgtype"
)

func (s *Store) AppendEvent(ctx context.Context, event audit.Event) error {
	id, ok := toUUID(event.ID)
	if !ok {
		return fmt.Errorf("invalid audit event id %q", event.ID)
	}
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_events (id, actor, type, ref_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, event.Actor, string(event.Type), event.RefID, payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, actor, type, ref_id, payload, created_at
		FROM audit_events
		ORDER BY seq DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var result []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			id      pgtype.UUID
			typ     string
			payload []byte
		)
		if err := rows.Scan(&id, &e.Actor, &typ, &e.RefID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = uuidToString(id)
		e.Type = audit.EventType(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Payload, err = unmarshalJSON[map[string]any](payload); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
