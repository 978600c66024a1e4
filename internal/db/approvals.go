package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const approvalColumns = `id, command_id, approved_by, created_at, revoked_at`

func scanApproval(row pgx.Row) (approval.Approval, error) {
	var (
		a         approval.Approval
		id, cmdID pgtype.UUID
		revokedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &cmdID, &a.ApprovedBy, &a.CreatedAt, &revokedAt); err != nil {
		return approval.Approval{}, err
	}
	a.ID = uuidToString(id)
	a.CommandID = uuidToString(cmdID)
	a.CreatedAt = a.CreatedAt.UTC()
	a.RevokedAt = fromTimestamptz(revokedAt)
	return a, nil
}

// CreateApproval relies on the unique command_id: concurrent approvals of the
// same command produce one row, and an existing row is only overwritten when it
// is revoked or older than staleBefore.
func (s *Store) CreateApproval(ctx context.Context, a approval.Approval, staleBefore time.Time) (approval.Approval, error) {
	id, ok := toUUID(a.ID)
	if !ok {
		return approval.Approval{}, fmt.Errorf("invalid approval id %q", a.ID)
	}
	cmdID, ok := toUUID(a.CommandID)
	if !ok {
		return approval.Approval{}, fmt.Errorf("invalid command id %q", a.CommandID)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO approvals (id, command_id, approved_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (command_id) DO UPDATE SET
			id = EXCLUDED.id,
			approved_by = EXCLUDED.approved_by,
			created_at = EXCLUDED.created_at,
			revoked_at = NULL
		WHERE approvals.revoked_at IS NOT NULL
			OR ($5::timestamptz IS NOT NULL AND approvals.created_at < $5::timestamptz)
		RETURNING `+approvalColumns,
		id, cmdID, a.ApprovedBy, a.CreatedAt, toTimestamptz(&staleBefore))

	created, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return approval.Approval{}, approval.ErrAlreadyApproved
		}
		return approval.Approval{}, fmt.Errorf("insert approval: %w", err)
	}
	return created, nil
}

func (s *Store) GetApproval(ctx context.Context, commandID string) (approval.Approval, error) {
	cmdID, ok := toUUID(commandID)
	if !ok {
		return approval.Approval{}, approval.ErrApprovalNotFound
	}

	a, err := scanApproval(s.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE command_id = $1`, cmdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return approval.Approval{}, approval.ErrApprovalNotFound
		}
		return approval.Approval{}, fmt.Errorf("query approval: %w", err)
	}
	return a, nil
}

func (s *Store) GetApprovals(ctx context.Context, commandIDs []string) (map[string]approval.Approval, error) {
	ids := make([]pgtype.UUID, 0, len(commandIDs))
	for _, id := range commandIDs {
		if parsed, ok := toUUID(id); ok {
			ids = append(ids, parsed)
		}
	}
	result := make(map[string]approval.Approval, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE command_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		result[a.CommandID] = a
	}
	return result, rows.Err()
}

func (s *Store) RevokeApproval(ctx context.Context, commandID string, at time.Time) error {
	cmdID, ok := toUUID(commandID)
	if !ok {
		return approval.ErrApprovalNotFound
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE approvals SET revoked_at = $2 WHERE command_id = $1 AND revoked_at IS NULL`,
		cmdID, at)
	if err != nil {
		return fmt.Errorf("revoke approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approval.ErrApprovalNotFound
	}
	return nil
}
