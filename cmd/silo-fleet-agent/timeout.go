package main

import (
	"context"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
)

// timeoutTransport bounds each gRPC call. The HTTP client carries its own
// timeout.
type timeoutTransport struct {
	next    agent.Transport
	timeout time.Duration
}

func (t timeoutTransport) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t timeoutTransport) Heartbeat(ctx context.Context, req dto.HeartbeatRequest) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Heartbeat(ctx, req)
}

func (t timeoutTransport) ShipLogs(ctx context.Context, entries []dto.LogEntry) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.ShipLogs(ctx, entries)
}

func (t timeoutTransport) Pull(ctx context.Context) ([]dto.PulledCommand, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Pull(ctx)
}

func (t timeoutTransport) Report(ctx context.Context, req dto.ReportRequest) (string, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.Report(ctx, req)
}
