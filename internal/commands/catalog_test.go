package commands

import (
	"encoding/json"
	"testing"

	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload Payload
		wantErr bool
	}{
		{"set mode", TypeSetMode, Payload{"mode": "SAFE"}, false},
		{"set mode invalid value", TypeSetMode, Payload{"mode": "FAST"}, true},
		{"set mode missing", TypeSetMode, Payload{}, true},
		{"set mode wrong kind", TypeSetMode, Payload{"mode": 1}, true},
		{"rate limit", TypeSetRateLimit, Payload{"endpoint": "/v1/chat", "limit_rps": 20}, false},
		{"rate limit json number", TypeSetRateLimit, Payload{"endpoint": "/v1/chat", "limit_rps": json.Number("2.5")}, false},
		{"rate limit zero", TypeSetRateLimit, Payload{"endpoint": "/v1/chat", "limit_rps": 0.0}, true},
		{"rate limit string number", TypeSetRateLimit, Payload{"endpoint": "/v1/chat", "limit_rps": "5"}, true},
		{"notify", TypeNotifyOps, Payload{"severity": "critical", "message": "disk"}, false},
		{"notify empty message", TypeNotifyOps, Payload{"severity": "info", "message": "  "}, true},
		{"restart", TypeRestartProcess, Payload{"process": "inference"}, false},
		{"stop extra param", TypeStopProcess, Payload{"process": "inference", "force": true}, true},
		{"rollback no target", TypeRollback, Payload{}, false},
		{"rollback target", TypeRollback, Payload{"target": "v1.2.0"}, false},
		{"unknown", "REBOOT", Payload{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.typ, tt.payload)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, approval.ClassWeak, ClassOf(TypeSetMode))
	assert.Equal(t, approval.ClassWeak, ClassOf(TypeSetRateLimit))
	assert.Equal(t, approval.ClassWeak, ClassOf(TypeNotifyOps))
	assert.Equal(t, approval.ClassStrong, ClassOf(TypeRestartProcess))
	assert.Equal(t, approval.ClassStrong, ClassOf(TypeStopProcess))
	assert.Equal(t, approval.ClassStrong, ClassOf(TypeRollback))
	assert.True(t, IsStrong("SOMETHING_NEW"))
}

func TestStrongTypesNeedApplyLock(t *testing.T) {
	for _, typ := range Types() {
		spec, ok := Lookup(typ)
		assert.True(t, ok)
		if spec.Class == approval.ClassStrong {
			assert.True(t, spec.RequiresApplyEnabled, typ)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := Validate(TypeSetMode, Payload{"mode": "FAST"})
	assert.EqualError(t, err, "command SET_MODE: mode: must be one of NORMAL, SAFE, LOCKED")

	err = Validate("REBOOT", nil)
	assert.EqualError(t, err, "command REBOOT: not in allowlist")
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusDelivered))
	assert.True(t, CanTransition(StatusPending, StatusFailed))
	assert.True(t, CanTransition(StatusDelivered, StatusCompleted))
	assert.True(t, CanTransition(StatusDelivered, StatusFailed))
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusFailed, StatusPending))
	assert.False(t, CanTransition(StatusDelivered, StatusPending))
}
