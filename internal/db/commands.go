package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const commandColumns = `id, seq, agent_id, type, payload, status, result, created_by,
	created_at, updated_at, delivered_at, delivery_count`

func scanCommand(row pgx.Row) (commands.Command, error) {
	var (
		c           commands.Command
		id          pgtype.UUID
		typ, status string
		payload     []byte
		result      []byte
		deliveredAt pgtype.Timestamptz
		count       int32
	)
	err := row.Scan(&id, &c.Seq, &c.AgentID, &typ, &payload, &status, &result, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt, &deliveredAt, &count)
	if err != nil {
		return commands.Command{}, err
	}

	c.ID = uuidToString(id)
	c.Type = commands.Type(typ)
	c.Status = commands.Status(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.DeliveredAt = fromTimestamptz(deliveredAt)
	c.DeliveryCount = int(count)

	if c.Payload, err = unmarshalJSON[commands.Payload](payload); err != nil {
		return commands.Command{}, err
	}
	if c.Result, err = unmarshalJSON[commands.Result](result); err != nil {
		return commands.Command{}, err
	}
	return c, nil
}

func collectCommands(rows pgx.Rows) ([]commands.Command, error) {
	defer rows.Close()

	var result []commands.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) CreateCommand(ctx context.Context, cmd commands.Command) (commands.Command, error) {
	id, ok := toUUID(cmd.ID)
	if !ok {
		return commands.Command{}, fmt.Errorf("invalid command id %q", cmd.ID)
	}
	payload := cmd.Payload
	if payload == nil {
		payload = commands.Payload{}
	}
	payloadJSON, err := marshalJSON(payload)
	if err != nil {
		return commands.Command{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO commands (id, agent_id, type, payload, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+commandColumns,
		id, cmd.AgentID, string(cmd.Type), payloadJSON, string(cmd.Status), cmd.CreatedBy, cmd.CreatedAt, cmd.UpdatedAt)

	created, err := scanCommand(row)
	if err != nil {
		return commands.Command{}, fmt.Errorf("insert command: %w", err)
	}
	return created, nil
}

func (s *Store) GetCommand(ctx context.Context, commandID string) (commands.Command, error) {
	id, ok := toUUID(commandID)
	if !ok {
		return commands.Command{}, commands.ErrCommandNotFound
	}

	cmd, err := scanCommand(s.db.QueryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return commands.Command{}, commands.ErrCommandNotFound
		}
		return commands.Command{}, fmt.Errorf("query command: %w", err)
	}
	return cmd, nil
}

func (s *Store) ListCommands(ctx context.Context, filter commands.Filter) ([]commands.Command, error) {
	var (
		where []string
		args  []any
	)
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + commandColumns + ` FROM commands`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	return collectCommands(rows)
}

func (s *Store) ListOpenCommands(ctx context.Context, agentID string) ([]commands.Command, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE agent_id = $1 AND status IN ('pending', 'delivered')
		ORDER BY seq`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query open commands: %w", err)
	}
	return collectCommands(rows)
}

func (s *Store) ListStaleDeliveries(ctx context.Context, deliveredBefore time.Time) ([]commands.Command, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE status = 'delivered' AND delivered_at < $1
		ORDER BY seq`, deliveredBefore)
	if err != nil {
		return nil, fmt.Errorf("query stale deliveries: %w", err)
	}
	return collectCommands(rows)
}

// TransitionCommand is a single compare-and-set on the row's status.
func (s *Store) TransitionCommand(ctx context.Context, t commands.Transition) (commands.Command, error) {
	id, ok := toUUID(t.ID)
	if !ok {
		return commands.Command{}, commands.ErrCommandNotFound
	}
	result, err := marshalJSON(t.Result)
	if err != nil {
		return commands.Command{}, err
	}

	row := s.db.QueryRow(ctx, `
		UPDATE commands SET
			status = $3::text,
			updated_at = $4,
			result = COALESCE($5::jsonb, result),
			delivered_at = CASE
				WHEN $3::text = 'delivered' THEN $4
				WHEN $3::text = 'pending' THEN NULL
				ELSE delivered_at END,
			delivery_count = delivery_count + CASE WHEN $3::text = 'delivered' THEN 1 ELSE 0 END
		WHERE id = $1 AND status = $2
		RETURNING `+commandColumns,
		id, string(t.From), string(t.To), t.At, result)

	updated, err := scanCommand(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return commands.Command{}, fmt.Errorf("transition command: %w", err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM commands WHERE id = $1)`, id).Scan(&exists); err != nil {
		return commands.Command{}, fmt.Errorf("query command: %w", err)
	}
	if !exists {
		return commands.Command{}, commands.ErrCommandNotFound
	}
	return commands.Command{}, commands.ErrPrecondition
}
