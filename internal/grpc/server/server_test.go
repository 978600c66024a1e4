package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/grpc/client"
	"github.com/EternisAI/silo-fleet/internal/grpc/wire"
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/EternisAI/silo-fleet/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixture struct {
	lis      *bufconn.Listener
	agents   *agents.Service
	commands *commands.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	recorder := audit.NewRecorder(store, nil, clk)
	agentSvc := agents.NewService(store, recorder, clk, 30*time.Second)
	commandSvc := commands.NewService(store, store, approval.NewGate(approval.Policy{}), recorder, clk)
	logSvc := logs.NewService(store, agentSvc, recorder, nil, clk)
	authn := auth.NewAgentAuthenticator(map[string]string{"pc-001": "secret-1", "pc-002": "secret-2"}, store)

	srv := NewServer(0, controlplane.NewService(agentSvc, commandSvc, logSvc), authn, nil)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { _ = srv.StopWithTimeout(time.Second) })

	return &fixture{lis: lis, agents: agentSvc, commands: commandSvc}
}

func (f *fixture) dialer() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return f.lis.DialContext(ctx)
	})
}

func (f *fixture) client(t *testing.T, agentID, apiKey string) *client.Client {
	t.Helper()
	c, err := client.NewClient(client.Config{Address: "passthrough:///bufnet"}, agentID, apiKey, f.dialer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var _ agent.Transport = (*client.Client)(nil)

func TestGRPCCommandRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(t, "pc-001", "secret-1")

	require.NoError(t, c.Heartbeat(ctx, dto.HeartbeatRequest{
		Platform: "linux",
		Version:  "1.0.0",
		Metrics:  dto.AgentMetrics{Mode: "NORMAL"},
	}))
	a, err := f.agents.Get(ctx, "pc-001")
	require.NoError(t, err)
	assert.True(t, a.Online)

	cmd, err := f.commands.Enqueue(ctx, "user:alice", "pc-001", commands.TypeSetMode, commands.Payload{"mode": "SAFE"})
	require.NoError(t, err)

	pulled, err := c.Pull(ctx)
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	assert.Equal(t, cmd.ID, pulled[0].ID)
	assert.Equal(t, "SAFE", pulled[0].Payload["mode"])

	st, err := c.Report(ctx, dto.ReportRequest{CommandID: cmd.ID, Status: "completed", Result: map[string]any{"mode": "SAFE"}})
	require.NoError(t, err)
	assert.Equal(t, dto.StatusOK, st)

	st, err = c.Report(ctx, dto.ReportRequest{CommandID: cmd.ID, Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, dto.StatusIgnored, st)

	got, err := f.commands.Get(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, commands.StatusCompleted, got.Status)
}

func TestGRPCShipLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(t, "pc-001", "secret-1")
	require.NoError(t, c.Heartbeat(ctx, dto.HeartbeatRequest{Platform: "linux"}))

	err := c.ShipLogs(ctx, []dto.LogEntry{
		{Level: "ERROR", Code: "E42", Message: "disk failing"},
		{Level: "INFO", Message: "fine"},
	})
	require.NoError(t, err)

	a, err := f.agents.Get(ctx, "pc-001")
	require.NoError(t, err)
	assert.Equal(t, "disk failing", a.LastError)
}

func TestGRPCRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.client(t, "pc-001", "wrong")
	assert.ErrorIs(t, c.Heartbeat(ctx, dto.HeartbeatRequest{}), agent.ErrUnauthorized)

	_, err := f.agents.Get(ctx, "pc-001")
	assert.ErrorIs(t, err, agents.ErrAgentNotFound, "rejected call has no side effect")

	c = f.client(t, "bad id!", "secret-1")
	_, err = c.Pull(ctx)
	assert.ErrorIs(t, err, agent.ErrUnauthorized)
}

func TestGRPCMissingMetadata(t *testing.T) {
	f := newFixture(t)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		f.dialer(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var resp dto.PullResponse
	err = conn.Invoke(context.Background(), wire.FullMethod(wire.MethodPull), &wire.Empty{}, &resp)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), wire.MetadataAgentID, "pc-001")
	err = conn.Invoke(ctx, wire.FullMethod(wire.MethodPull), &wire.Empty{}, &resp)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPCReportValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(t, "pc-001", "secret-1")

	_, err := c.Report(ctx, dto.ReportRequest{Status: "completed"})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Report(ctx, dto.ReportRequest{CommandID: "x", Status: "running"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCAgentsSeeOnlyTheirCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.commands.Enqueue(ctx, "user:alice", "pc-001", commands.TypeNotifyOps, commands.Payload{"severity": "info", "message": "hi"})
	require.NoError(t, err)

	pulled, err := f.client(t, "pc-002", "secret-2").Pull(ctx)
	require.NoError(t, err)
	assert.Empty(t, pulled)
}
