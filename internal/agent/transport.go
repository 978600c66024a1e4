package agent

import (
	"context"
	"errors"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
)

// ErrUnauthorized is returned by a Transport when the server rejects the
// agent's credentials.
var ErrUnauthorized = errors.New("agent credentials rejected")

// Transport is the agent side of the four control plane operations. Any
// returned error counts as a transport failure.
type Transport interface {
	Heartbeat(ctx context.Context, req dto.HeartbeatRequest) error
	ShipLogs(ctx context.Context, entries []dto.LogEntry) error
	Pull(ctx context.Context) ([]dto.PulledCommand, error)
	// Report returns dto.StatusOK or dto.StatusIgnored.
	Report(ctx context.Context, req dto.ReportRequest) (string, error)
}
