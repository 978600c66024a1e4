package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEligibleWeakWithoutApproval(t *testing.T) {
	g := NewGate(Policy{})
	assert.True(t, g.Eligible(ClassWeak, nil, now))
}

func TestEligibleStrongNeedsApproval(t *testing.T) {
	g := NewGate(Policy{})

	assert.False(t, g.Eligible(ClassStrong, nil, now))
	assert.True(t, g.Eligible(ClassStrong, &Approval{CreatedAt: now.Add(-time.Hour)}, now))
}

func TestEligibleStrongRevoked(t *testing.T) {
	g := NewGate(Policy{AllowRevoke: true})
	revoked := now.Add(-time.Minute)

	assert.False(t, g.Eligible(ClassStrong, &Approval{CreatedAt: now.Add(-time.Hour), RevokedAt: &revoked}, now))
}

func TestEligibleStrongExpired(t *testing.T) {
	g := NewGate(Policy{TTL: 10 * time.Minute})

	assert.True(t, g.Eligible(ClassStrong, &Approval{CreatedAt: now.Add(-9 * time.Minute)}, now))
	assert.False(t, g.Eligible(ClassStrong, &Approval{CreatedAt: now.Add(-10 * time.Minute)}, now))
}

func TestCheckApprove(t *testing.T) {
	g := NewGate(Policy{TTL: time.Hour})
	live := &Approval{CreatedAt: now.Add(-time.Minute)}
	expired := &Approval{CreatedAt: now.Add(-2 * time.Hour)}

	tests := []struct {
		name     string
		actor    string
		class    Class
		terminal bool
		existing *Approval
		want     error
	}{
		{"missing actor", "", ClassStrong, false, nil, ErrActorRequired},
		{"weak command", "alice", ClassWeak, false, nil, ErrNotApprovable},
		{"terminal command", "alice", ClassStrong, true, nil, ErrTerminal},
		{"already approved", "alice", ClassStrong, false, live, ErrAlreadyApproved},
		{"expired approval replaced", "alice", ClassStrong, false, expired, nil},
		{"first approval", "alice", ClassStrong, false, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckApprove(tt.actor, tt.class, tt.terminal, tt.existing, now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckRevoke(t *testing.T) {
	live := &Approval{CreatedAt: now}

	assert.ErrorIs(t, NewGate(Policy{}).CheckRevoke(true, live, now), ErrRevokeDisabled)

	g := NewGate(Policy{AllowRevoke: true})
	assert.NoError(t, g.CheckRevoke(true, live, now))
	assert.ErrorIs(t, g.CheckRevoke(false, live, now), ErrNotPending)
	assert.ErrorIs(t, g.CheckRevoke(true, nil, now), ErrApprovalNotFound)
}

func TestStaleBefore(t *testing.T) {
	assert.True(t, NewGate(Policy{}).StaleBefore(now).IsZero())
	assert.Equal(t, now.Add(-time.Hour), NewGate(Policy{TTL: time.Hour}).StaleBefore(now))
}
