package approval

import (
	"errors"
	"time"
)

var (
	ErrApprovalNotFound = errors.New("approval not found")
	ErrNotApprovable    = errors.New("command does not require approval")
	ErrAlreadyApproved  = errors.New("command already approved")
	ErrTerminal         = errors.New("command already finished")
	ErrNotPending       = errors.New("command is no longer pending")
	ErrRevokeDisabled   = errors.New("approval revocation is disabled")
	ErrActorRequired    = errors.New("approving actor is required")
)

type Policy struct {
	// TTL bounds how long an approval authorizes release. Zero disables expiry.
	TTL time.Duration `mapstructure:"ttl"`
	// AllowRevoke lets operators withdraw an approval while its command is pending.
	AllowRevoke bool `mapstructure:"allow_revoke"`
}

// Gate is the server-side half of the dual lock.
type Gate struct {
	policy Policy
}

func NewGate(policy Policy) *Gate {
	return &Gate{policy: policy}
}

func (g *Gate) Policy() Policy {
	return g.policy
}

// Eligible reports whether a pending command of the given class may be handed to
// its agent. Weak commands always are; strong ones need a live approval.
func (g *Gate) Eligible(class Class, a *Approval, now time.Time) bool {
	if class != ClassStrong {
		return true
	}
	return a.Live(now, g.policy.TTL)
}

// CheckApprove validates an approval request against the command's class and
// state and any existing approval.
func (g *Gate) CheckApprove(actor string, class Class, terminal bool, existing *Approval, now time.Time) error {
	if actor == "" {
		return ErrActorRequired
	}
	if class != ClassStrong {
		return ErrNotApprovable
	}
	if terminal {
		return ErrTerminal
	}
	if existing.Live(now, g.policy.TTL) {
		return ErrAlreadyApproved
	}
	return nil
}

func (g *Gate) CheckRevoke(pending bool, existing *Approval, now time.Time) error {
	if !g.policy.AllowRevoke {
		return ErrRevokeDisabled
	}
	if !pending {
		return ErrNotPending
	}
	if !existing.Live(now, g.policy.TTL) {
		return ErrApprovalNotFound
	}
	return nil
}

// StaleBefore is the creation time before which an approval no longer counts.
// It is zero when approvals never expire.
func (g *Gate) StaleBefore(now time.Time) time.Time {
	if g.policy.TTL <= 0 {
		return time.Time{}
	}
	return now.Add(-g.policy.TTL)
}
