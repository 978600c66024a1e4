package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/commands"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultActionTimeout = 60 * time.Second
	maxActionOutput      = 2000
	finishedCacheSize    = 512
)

// Outcome is the result an agent reports for one command.
type Outcome struct {
	Status commands.Status
	Result map[string]any
	// Mode is set when the command switched the agent's operating mode.
	Mode Mode
	// Replayed marks an outcome served from the finished-command record.
	Replayed bool
}

// ShellFunc runs a configured action and returns its combined output and exit
// code.
type ShellFunc func(ctx context.Context, cmdline string) (output string, exitCode int, err error)

// Executor validates and runs commands. It is idempotent per command id: a
// command seen again after it finished is answered from a bounded record and
// never run twice.
type Executor struct {
	control ControlConfig
	watch   WatchConfig
	shell   ShellFunc
	timeout time.Duration

	finished *lru.Cache[string, Outcome]
}

func NewExecutor(control ControlConfig, watch WatchConfig, shell ShellFunc) (*Executor, error) {
	cache, err := lru.New[string, Outcome](finishedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create finished command cache: %w", err)
	}
	if shell == nil {
		shell = runShell
	}
	return &Executor{
		control:  control,
		watch:    watch,
		shell:    shell,
		timeout:  DefaultActionTimeout,
		finished: cache,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, cmd dto.PulledCommand) Outcome {
	if prev, ok := e.finished.Get(cmd.ID); ok {
		prev.Replayed = true
		return prev
	}

	out := e.execute(ctx, cmd)
	e.finished.Add(cmd.ID, out)
	return out
}

func (e *Executor) execute(ctx context.Context, cmd dto.PulledCommand) Outcome {
	t := commands.Type(cmd.Type)
	payload := commands.Payload(cmd.Payload)
	if payload == nil {
		payload = commands.Payload{}
	}

	if err := commands.Validate(t, payload); err != nil {
		slog.Warn("Command rejected", "command_id", cmd.ID, "type", cmd.Type, "reason", err)
		return failed(err.Error())
	}

	spec, _ := commands.Lookup(t)
	if spec.RequiresApplyEnabled && !e.control.ApplyEnabled {
		slog.Warn("Command blocked by local apply lock", "command_id", cmd.ID, "type", cmd.Type)
		return failed(fmt.Sprintf("command %s requires control.apply_enabled=true", cmd.Type))
	}

	if commands.IsStrong(t) {
		slog.Warn("Executing strong command", "command_id", cmd.ID, "type", cmd.Type, "payload", cmd.Payload)
	}

	switch t {
	case commands.TypeSetMode:
		mode := Mode(payload["mode"].(string))
		if !e.control.ModeAllowed(mode) {
			return failed(fmt.Sprintf("mode %s not in safe_modes %v", mode, e.control.SafeModes))
		}
		out := completed(map[string]any{"output": "mode set to " + string(mode), "mode": string(mode)})
		out.Mode = mode
		return out
	case commands.TypeSetRateLimit:
		slog.Info("Rate limit set", "endpoint", payload["endpoint"], "limit_rps", payload["limit_rps"])
		return completed(map[string]any{"output": fmt.Sprintf("rate limit set: %v=%vrps", payload["endpoint"], payload["limit_rps"])})
	case commands.TypeNotifyOps:
		slog.Info("Operator notification", "severity", payload["severity"], "message", payload["message"])
		return completed(map[string]any{"output": fmt.Sprintf("notification sent: [%v] %v", payload["severity"], payload["message"])})
	case commands.TypeRestartProcess:
		return e.processAction(ctx, payload["process"].(string), true)
	case commands.TypeStopProcess:
		return e.processAction(ctx, payload["process"].(string), false)
	case commands.TypeRollback:
		if e.control.RollbackCmd == "" {
			return completed(map[string]any{"output": "rollback acknowledged"})
		}
		return e.run(ctx, e.control.RollbackCmd)
	}
	return failed("no handler for " + cmd.Type)
}

func (e *Executor) processAction(ctx context.Context, name string, restart bool) Outcome {
	proc, ok := e.watch.Process(name)
	if !ok {
		return failed(fmt.Sprintf("process %q not in watch list", name))
	}

	cmdline := proc.StopCmd
	if restart {
		if !proc.AllowRestart {
			return failed(fmt.Sprintf("restart not allowed for %q", name))
		}
		cmdline = proc.RestartCmd
	}
	if cmdline == "" {
		return failed(fmt.Sprintf("no action configured for %q", name))
	}

	slog.Warn("Running process action", "process", name, "restart", restart)
	return e.run(ctx, cmdline)
}

func (e *Executor) run(ctx context.Context, cmdline string) Outcome {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, code, err := e.shell(runCtx, cmdline)
	output = truncate(cleanText(output), maxActionOutput)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failed(fmt.Sprintf("command timed out (%s)", e.timeout))
	}
	if err != nil {
		return failed(err.Error())
	}

	result := map[string]any{"output": output, "return_code": code}
	if code != 0 {
		result["success"] = false
		return Outcome{Status: commands.StatusFailed, Result: result}
	}
	result["success"] = true
	return Outcome{Status: commands.StatusCompleted, Result: result}
}

func runShell(ctx context.Context, cmdline string) (string, int, error) {
	var c *exec.Cmd
	if runtime.GOOS == "windows" {
		c = exec.CommandContext(ctx, "cmd", "/C", cmdline)
	} else {
		c = exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	}

	out, err := c.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode(), nil
	}
	if err != nil {
		return string(out), -1, err
	}
	return string(out), 0, nil
}

func completed(result map[string]any) Outcome {
	result["success"] = true
	return Outcome{Status: commands.StatusCompleted, Result: result}
}

func failed(reason string) Outcome {
	return Outcome{
		Status: commands.StatusFailed,
		Result: map[string]any{"success": false, "error": reason},
	}
}
