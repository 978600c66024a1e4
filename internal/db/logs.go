package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// AppendLogs inserts the batch in one round trip. A batch runs as an implicit
// transaction, so either every entry is stored or none is.
func (s *Store) AppendLogs(ctx context.Context, entries []logs.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		id, ok := toUUID(e.ID)
		if !ok {
			return fmt.Errorf("invalid log id %q", e.ID)
		}
		meta, err := marshalJSON(e.Meta)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO agent_logs (id, agent_id, level, code, message, meta, ts, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, e.AgentID, string(e.Level), e.Code, e.Message, meta, e.Timestamp, e.ReceivedAt)
	}

	br := s.db.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert log entry: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert log batch: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, q logs.Query) ([]logs.Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.AgentID != "" {
		args = append(args, q.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if q.Level != "" {
		args = append(args, string(q.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	if q.ErrorsOnly {
		where = append(where, "level IN ('ERROR', 'CRITICAL')")
	}

	query := `SELECT id, agent_id, level, code, message, meta, ts, received_at FROM agent_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var result []logs.Entry
	for rows.Next() {
		var (
			e     logs.Entry
			id    pgtype.UUID
			level string
			meta  []byte
		)
		if err := rows.Scan(&id, &e.AgentID, &level, &e.Code, &e.Message, &meta, &e.Timestamp, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.ID = uuidToString(id)
		e.Level = logs.Level(level)
		e.Timestamp = e.Timestamp.UTC()
		e.ReceivedAt = e.ReceivedAt.UTC()
		if e.Meta, err = unmarshalJSON[map[string]any](meta); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
