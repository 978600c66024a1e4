package agentclient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/sony/gobreaker"
)

var ErrCircuitOpen = errors.New("transport circuit breaker is open")

type BreakerConfig struct {
	// Failures is the run of consecutive failures that opens the breaker.
	Failures uint32        `mapstructure:"failures"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Breaker wraps a Transport so that a dead server is not hit on every tick.
// While open, calls fail immediately with ErrCircuitOpen, which the runtime
// counts like any other transport failure.
type Breaker struct {
	next agent.Transport
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next agent.Transport, cfg BreakerConfig) *Breaker {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "agent-transport",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			// Rejected credentials mean the server is up.
			return err == nil || errors.Is(err, agent.ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Heartbeat(ctx context.Context, req dto.HeartbeatRequest) error {
	return b.execute(func() error { return b.next.Heartbeat(ctx, req) })
}

func (b *Breaker) ShipLogs(ctx context.Context, entries []dto.LogEntry) error {
	return b.execute(func() error { return b.next.ShipLogs(ctx, entries) })
}

func (b *Breaker) Pull(ctx context.Context) ([]dto.PulledCommand, error) {
	var cmds []dto.PulledCommand
	err := b.execute(func() error {
		var err error
		cmds, err = b.next.Pull(ctx)
		return err
	})
	return cmds, err
}

func (b *Breaker) Report(ctx context.Context, req dto.ReportRequest) (string, error) {
	var status string
	err := b.execute(func() error {
		var err error
		status, err = b.next.Report(ctx, req)
		return err
	})
	return status, err
}

func (b *Breaker) execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
