package agent

import (
	"sync"
	"time"

	"github.com/EternisAI/silo-fleet/internal/clock"
)

// Status is a point-in-time copy of the runtime state.
type Status struct {
	Mode                Mode          `json:"mode"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Degraded            bool          `json:"degraded"`
	Backoff             time.Duration `json:"backoff_ns"`
	NextAttempt         time.Time     `json:"next_attempt,omitzero"`
	LastSuccess         time.Time     `json:"last_success,omitzero"`
	BufferedLogs        int           `json:"buffered_logs"`
}

// state owns the counters shared by the three loops. Every mutation goes
// through its methods.
type state struct {
	mu     sync.Mutex
	policy SafeModeConfig
	clock  clock.Clock

	mode Mode
	// degraded is set when the agent entered SAFE on its own after repeated
	// failures; restoreMode is the mode to return to when that clears.
	degraded    bool
	restoreMode Mode

	failures    int
	backoff     time.Duration
	nextAttempt time.Time
	lastSuccess time.Time
}

func newState(policy SafeModeConfig, clk clock.Clock) *state {
	return &state{
		policy: policy,
		clock:  clk,
		mode:   ModeNormal,
	}
}

func (s *state) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode applies an explicit mode change. It re-arms the agent: a SAFE mode
// entered by the degrade policy no longer auto-clears.
func (s *state) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.degraded = false
}

// ready reports whether the backoff window, if any, has passed.
func (s *state) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.clock.Now().Before(s.nextAttempt)
}

// recordFailure counts one transport failure. Once the threshold is reached
// the mode switches to SAFE and every further failure grows the backoff. It
// returns true when this failure switched the mode.
func (s *state) recordFailure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if s.failures < s.policy.FailureThreshold {
		return false
	}

	if s.backoff == 0 {
		s.backoff = s.policy.InitialBackoff
	} else {
		s.backoff = time.Duration(float64(s.backoff) * s.policy.BackoffFactor)
		if s.backoff > s.policy.MaxBackoff {
			s.backoff = s.policy.MaxBackoff
		}
	}
	s.nextAttempt = s.clock.Now().Add(s.backoff)

	if s.mode == ModeSafe {
		return false
	}
	s.restoreMode = s.mode
	s.mode = ModeSafe
	s.degraded = true
	return true
}

// recordSuccess resets the failure counter and backoff. With auto clear on,
// a successful heartbeat restores the mode held before a self-entered SAFE;
// it returns true when that happens.
func (s *state) recordSuccess(heartbeat bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = 0
	s.backoff = 0
	s.nextAttempt = time.Time{}
	s.lastSuccess = s.clock.Now()

	if !heartbeat || !s.policy.AutoClear || !s.degraded {
		return false
	}
	s.mode = s.restoreMode
	s.degraded = false
	return true
}

func (s *state) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Mode:                s.mode,
		ConsecutiveFailures: s.failures,
		Degraded:            s.degraded,
		Backoff:             s.backoff,
		NextAttempt:         s.nextAttempt,
		LastSuccess:         s.lastSuccess,
	}
}
