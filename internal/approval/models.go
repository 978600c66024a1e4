package approval

import (
	"context"
	"time"
)

// Class splits command types into those released on the allowlist alone and
// those that also need a recorded human approval.
type Class string

const (
	ClassWeak   Class = "weak"
	ClassStrong Class = "strong"
)

type Approval struct {
	ID         string     `json:"id"`
	CommandID  string     `json:"command_id"`
	ApprovedBy string     `json:"approved_by"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Live reports whether the approval still authorizes release at now.
// A zero ttl means approvals never expire.
func (a *Approval) Live(now time.Time, ttl time.Duration) bool {
	if a == nil || a.RevokedAt != nil {
		return false
	}
	if ttl > 0 && !now.Before(a.CreatedAt.Add(ttl)) {
		return false
	}
	return true
}

type Repository interface {
	// CreateApproval inserts the approval for its command. An existing row is
	// replaced only when it was revoked or created before staleBefore; otherwise
	// ErrAlreadyApproved is returned. A zero staleBefore never replaces on age.
	CreateApproval(ctx context.Context, a Approval, staleBefore time.Time) (Approval, error)
	// GetApproval returns ErrApprovalNotFound when the command has none.
	GetApproval(ctx context.Context, commandID string) (Approval, error)
	GetApprovals(ctx context.Context, commandIDs []string) (map[string]Approval, error)
	RevokeApproval(ctx context.Context, commandID string, at time.Time) error
}
