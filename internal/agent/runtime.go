package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/clock"
)

const (
	opHeartbeat = "heartbeat"
	opShipLogs  = "logs"
	opPull      = "pull"
	opReport    = "report"

	finalFlushTimeout = 5 * time.Second
)

type Deps struct {
	Transport Transport
	// Collector defaults to a SystemCollector over cfg.Watch.
	Collector Collector
	// Logs defaults to a Tailer over cfg.Watch.LogFiles.
	Logs  LogSource
	Shell ShellFunc
	Clock clock.Clock
}

// Runtime drives one agent: heartbeat, command pull and log shipping each run
// on their own timer and share one state value.
type Runtime struct {
	cfg       Config
	transport Transport
	collector Collector
	logs      LogSource
	executor  *Executor
	buffer    *LogBuffer
	state     *state

	heartbeatBusy atomic.Bool
	pullBusy      atomic.Bool
	logsBusy      atomic.Bool

	wg sync.WaitGroup
}

func NewRuntime(cfg Config, deps Deps) (*Runtime, error) {
	if deps.Transport == nil {
		return nil, errors.New("transport is required")
	}
	cfg = cfg.WithDefaults()

	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	collector := deps.Collector
	if collector == nil {
		collector = NewSystemCollector(cfg.Watch)
	}
	logs := deps.Logs
	if logs == nil {
		logs = NewTailer(cfg.Watch.LogFiles)
	}

	executor, err := NewExecutor(cfg.Control, cfg.Watch, deps.Shell)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		cfg:       cfg,
		transport: deps.Transport,
		collector: collector,
		logs:      logs,
		executor:  executor,
		buffer:    NewLogBuffer(cfg.Buffer.MaxEntries),
		state:     newState(cfg.SafeMode, clk),
	}, nil
}

// Run blocks until ctx is cancelled, then waits for in-flight calls and makes
// one last attempt to ship buffered logs.
func (r *Runtime) Run(ctx context.Context) error {
	slog.Info("Agent runtime started",
		"heartbeat", r.cfg.Intervals.Heartbeat,
		"pull", r.cfg.Intervals.Pull,
		"logs", r.cfg.Intervals.Logs,
		"apply_enabled", r.cfg.Control.ApplyEnabled)

	r.every(ctx, r.cfg.Intervals.Heartbeat, r.heartbeatTick)
	r.every(ctx, r.cfg.Intervals.Pull, r.pullTick)
	r.every(ctx, r.cfg.Intervals.Logs, r.logsTick)

	<-ctx.Done()
	r.wg.Wait()

	if r.buffer.Len() > 0 {
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		if err := r.flush(flushCtx); err != nil {
			slog.Warn("Final log flush failed", "error", err, "remaining", r.buffer.Len())
		}
	}

	slog.Info("Agent runtime stopped")
	return nil
}

// Status reports the current mode, failure counter and backoff.
func (r *Runtime) Status() Status {
	st := r.state.snapshot()
	st.BufferedLogs = r.buffer.Len()
	return st
}

func (r *Runtime) every(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

// callCtx detaches transport calls from shutdown so a call already started
// is allowed to finish.
func callCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (r *Runtime) heartbeatTick(ctx context.Context) {
	if !r.heartbeatBusy.CompareAndSwap(false, true) {
		return
	}
	defer r.heartbeatBusy.Store(false)
	if !r.state.ready() {
		return
	}

	st := r.state.snapshot()
	metrics := r.collector.Collect(ctx)
	metrics.Mode = string(st.Mode)
	metrics.ConsecutiveFailures = st.ConsecutiveFailures

	err := r.transport.Heartbeat(callCtx(ctx), dto.HeartbeatRequest{
		Platform: r.cfg.Platform,
		Version:  r.cfg.Version,
		Metrics:  metrics,
	})
	r.record(opHeartbeat, err)
}

func (r *Runtime) pullTick(ctx context.Context) {
	if !r.pullBusy.CompareAndSwap(false, true) {
		return
	}
	defer r.pullBusy.Store(false)
	if !r.state.ready() {
		return
	}

	cmds, err := r.transport.Pull(callCtx(ctx))
	if !r.record(opPull, err) {
		return
	}

	for _, cmd := range cmds {
		if err := r.handleCommand(ctx, cmd); err != nil {
			// The rest stay delivered and come back on the next pull.
			return
		}
	}
}

func (r *Runtime) handleCommand(ctx context.Context, cmd dto.PulledCommand) error {
	out := r.executor.Execute(callCtx(ctx), cmd)
	if out.Mode != "" && !out.Replayed {
		r.state.SetMode(out.Mode)
		slog.Info("Mode changed", "mode", out.Mode, "command_id", cmd.ID)
	}
	if !out.Replayed {
		commandsExecutedTotal.WithLabelValues(cmd.Type, string(out.Status)).Inc()
	}

	status, err := r.transport.Report(callCtx(ctx), dto.ReportRequest{
		CommandID: cmd.ID,
		Status:    string(out.Status),
		Result:    out.Result,
	})
	if !r.record(opReport, err) {
		return err
	}
	if status == dto.StatusIgnored {
		slog.Info("Report ignored by server", "command_id", cmd.ID, "status", out.Status)
	}
	return nil
}

func (r *Runtime) logsTick(ctx context.Context) {
	if !r.logsBusy.CompareAndSwap(false, true) {
		return
	}
	defer r.logsBusy.Store(false)

	if entries := r.logs.Collect(); len(entries) > 0 {
		r.buffer.Append(entries...)
		slog.Debug("Collected log entries", "count", len(entries))
	}
	if r.buffer.Len() == 0 || !r.state.ready() {
		return
	}
	_ = r.flush(callCtx(ctx))
}

// flush ships the buffer in batches until it is empty or a batch fails. A
// failed batch goes back in front of the buffer.
func (r *Runtime) flush(ctx context.Context) error {
	for {
		batch := r.buffer.Take(r.cfg.Buffer.BatchSize)
		if len(batch) == 0 {
			return nil
		}
		err := r.transport.ShipLogs(ctx, batch)
		if !r.record(opShipLogs, err) {
			r.buffer.Restore(batch)
			return fmt.Errorf("failed to ship %d log entries: %w", len(batch), err)
		}
	}
}

// record feeds one call result into the shared failure counter and reports
// whether the call succeeded.
func (r *Runtime) record(op string, err error) bool {
	observeCall(op, err)
	defer func() { observeState(r.Status()) }()

	if err == nil {
		if r.state.recordSuccess(op == opHeartbeat) {
			slog.Info("Communication restored, leaving SAFE mode", "mode", r.state.Mode())
		}
		return true
	}

	entered := r.state.recordFailure()
	st := r.state.snapshot()
	if errors.Is(err, ErrUnauthorized) {
		slog.Error("Server rejected agent credentials", "operation", op)
	} else {
		slog.Warn("Transport call failed",
			"operation", op,
			"error", err,
			"consecutive_failures", st.ConsecutiveFailures,
			"backoff", st.Backoff)
	}
	if entered {
		slog.Warn("Entering SAFE mode", "consecutive_failures", st.ConsecutiveFailures)
	}
	return false
}
