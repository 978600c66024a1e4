package agent

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, control ControlConfig, shell ShellFunc) *Executor {
	t.Helper()
	cfg := Config{
		Control: control,
		Watch: WatchConfig{Processes: []ProcessConfig{
			{Name: "inference", AllowRestart: true, RestartCmd: "restart-inference", StopCmd: "stop-inference"},
			{Name: "db", StopCmd: "stop-db", RestartCmd: "restart-db"},
			{Name: "worker"},
		}},
	}.WithDefaults()
	e, err := NewExecutor(cfg.Control, cfg.Watch, shell)
	require.NoError(t, err)
	return e
}

func TestExecutorValidation(t *testing.T) {
	shell := &shellRecorder{}
	e := newTestExecutor(t, ControlConfig{ApplyEnabled: true, SafeModes: []string{"NORMAL"}}, shell.run)

	tests := []struct {
		name   string
		cmd    dto.PulledCommand
		reason string
	}{
		{"unknown type", dto.PulledCommand{ID: "1", Type: "FORMAT_DISK"}, "not in allowlist"},
		{"missing param", dto.PulledCommand{ID: "2", Type: "RESTART_PROCESS"}, "process"},
		{"bad mode value", dto.PulledCommand{ID: "3", Type: "SET_MODE", Payload: map[string]any{"mode": "TURBO"}}, "must be one of"},
		{"mode not in safe modes", dto.PulledCommand{ID: "4", Type: "SET_MODE", Payload: map[string]any{"mode": "SAFE"}}, "safe_modes"},
		{"process not watched", dto.PulledCommand{ID: "5", Type: "STOP_PROCESS", Payload: map[string]any{"process": "sshd"}}, "not in watch list"},
		{"restart not allowed", dto.PulledCommand{ID: "6", Type: "RESTART_PROCESS", Payload: map[string]any{"process": "db"}}, "restart not allowed"},
		{"no action configured", dto.PulledCommand{ID: "7", Type: "STOP_PROCESS", Payload: map[string]any{"process": "worker"}}, "no action configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Execute(context.Background(), tt.cmd)
			assert.Equal(t, commands.StatusFailed, out.Status)
			assert.Equal(t, false, out.Result["success"])
			assert.Contains(t, out.Result["error"], tt.reason)
		})
	}
	assert.Empty(t, shell.calls)
}

func TestExecutorLockedModeAlwaysAllowed(t *testing.T) {
	e := newTestExecutor(t, ControlConfig{SafeModes: []string{"NORMAL"}}, nil)

	out := e.Execute(context.Background(), dto.PulledCommand{ID: "1", Type: "SET_MODE", Payload: map[string]any{"mode": "LOCKED"}})

	assert.Equal(t, commands.StatusCompleted, out.Status)
	assert.Equal(t, ModeLocked, out.Mode)
}

func TestExecutorApplyLock(t *testing.T) {
	shell := &shellRecorder{}
	e := newTestExecutor(t, ControlConfig{}, shell.run)

	for _, cmd := range []dto.PulledCommand{
		{ID: "1", Type: "RESTART_PROCESS", Payload: map[string]any{"process": "inference"}},
		{ID: "2", Type: "STOP_PROCESS", Payload: map[string]any{"process": "inference"}},
		{ID: "3", Type: "ROLLBACK"},
		{ID: "4", Type: "SET_RATE_LIMIT", Payload: map[string]any{"endpoint": "/v1", "limit_rps": 5.0}},
	} {
		out := e.Execute(context.Background(), cmd)
		assert.Equal(t, commands.StatusFailed, out.Status, cmd.Type)
		assert.Contains(t, out.Result["error"], "control.apply_enabled=true", cmd.Type)
	}
	assert.Empty(t, shell.calls)

	// Weak commands without the lock still run.
	out := e.Execute(context.Background(), dto.PulledCommand{ID: "5", Type: "NOTIFY_OPS", Payload: map[string]any{"severity": "warning", "message": "disk"}})
	assert.Equal(t, commands.StatusCompleted, out.Status)
}

func TestExecutorProcessActions(t *testing.T) {
	shell := &shellRecorder{}
	e := newTestExecutor(t, ControlConfig{ApplyEnabled: true}, shell.run)
	ctx := context.Background()

	out := e.Execute(ctx, dto.PulledCommand{ID: "1", Type: "RESTART_PROCESS", Payload: map[string]any{"process": "inference"}})
	assert.Equal(t, commands.StatusCompleted, out.Status)
	assert.Equal(t, "done", out.Result["output"])
	assert.Equal(t, 0, out.Result["return_code"])

	shell.code = 3
	out = e.Execute(ctx, dto.PulledCommand{ID: "2", Type: "STOP_PROCESS", Payload: map[string]any{"process": "db"}})
	assert.Equal(t, commands.StatusFailed, out.Status)
	assert.Equal(t, 3, out.Result["return_code"])

	assert.Equal(t, []string{"restart-inference", "stop-db"}, shell.calls)
}

func TestExecutorRollback(t *testing.T) {
	shell := &shellRecorder{}
	ctx := context.Background()

	e := newTestExecutor(t, ControlConfig{ApplyEnabled: true}, shell.run)
	out := e.Execute(ctx, dto.PulledCommand{ID: "1", Type: "ROLLBACK"})
	assert.Equal(t, commands.StatusCompleted, out.Status)
	assert.Empty(t, shell.calls)

	e = newTestExecutor(t, ControlConfig{ApplyEnabled: true, RollbackCmd: "git checkout stable"}, shell.run)
	out = e.Execute(ctx, dto.PulledCommand{ID: "2", Type: "ROLLBACK", Payload: map[string]any{"target": "v1.2.0"}})
	assert.Equal(t, commands.StatusCompleted, out.Status)
	assert.Equal(t, []string{"git checkout stable"}, shell.calls)
}

func TestExecutorIdempotentPerCommandID(t *testing.T) {
	shell := &shellRecorder{}
	e := newTestExecutor(t, ControlConfig{ApplyEnabled: true}, shell.run)
	cmd := dto.PulledCommand{ID: "c1", Type: "RESTART_PROCESS", Payload: map[string]any{"process": "inference"}}

	first := e.Execute(context.Background(), cmd)
	second := e.Execute(context.Background(), cmd)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Result, second.Result)
	assert.Len(t, shell.calls, 1)
}

func TestExecutorTimeoutAndOutputCap(t *testing.T) {
	slow := func(ctx context.Context, _ string) (string, int, error) {
		<-ctx.Done()
		return "", -1, ctx.Err()
	}
	e := newTestExecutor(t, ControlConfig{ApplyEnabled: true}, slow)
	e.timeout = 20 * time.Millisecond

	out := e.Execute(context.Background(), dto.PulledCommand{ID: "1", Type: "STOP_PROCESS", Payload: map[string]any{"process": "inference"}})
	assert.Equal(t, commands.StatusFailed, out.Status)
	assert.Contains(t, out.Result["error"], "timed out")

	loud := func(context.Context, string) (string, int, error) {
		return strings.Repeat("x", 5000), 0, nil
	}
	e = newTestExecutor(t, ControlConfig{ApplyEnabled: true}, loud)
	out = e.Execute(context.Background(), dto.PulledCommand{ID: "2", Type: "STOP_PROCESS", Payload: map[string]any{"process": "inference"}})
	assert.Len(t, out.Result["output"], maxActionOutput)

	wide := func(context.Context, string) (string, int, error) {
		return strings.Repeat("€", 1000), 0, nil
	}
	e = newTestExecutor(t, ControlConfig{ApplyEnabled: true}, wide)
	out = e.Execute(context.Background(), dto.PulledCommand{ID: "4", Type: "STOP_PROCESS", Payload: map[string]any{"process": "inference"}})
	output, ok := out.Result["output"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(output))
	assert.Len(t, output, 1998)

	broken := func(context.Context, string) (string, int, error) {
		return "", -1, errors.New("exec: not found")
	}
	e = newTestExecutor(t, ControlConfig{ApplyEnabled: true}, broken)
	out = e.Execute(context.Background(), dto.PulledCommand{ID: "3", Type: "STOP_PROCESS", Payload: map[string]any{"process": "inference"}})
	assert.Equal(t, commands.StatusFailed, out.Status)
	assert.Equal(t, "exec: not found", out.Result["error"])
}

func TestRunShell(t *testing.T) {
	if testing.Short() || runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	out, code, err := runShell(context.Background(), "echo hello; exit 2")
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "hello")
}
