package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*agents.Service, *clock.Fake, *audit.Recorder) {
	t.Helper()
	clk := clock.NewFake(start)
	store := memory.New()
	recorder := audit.NewRecorder(store, nil, clk)
	return agents.NewService(store, recorder, clk, 30*time.Second), clk, recorder
}

func TestLivenessFlipsAtTimeout(t *testing.T) {
	svc, clk, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-001", Platform: "linux", Version: "1.0"})
	require.NoError(t, err)

	online, err := svc.IsOnline(ctx, "pc-001")
	require.NoError(t, err)
	assert.True(t, online)

	clk.Advance(29 * time.Second)
	online, err = svc.IsOnline(ctx, "pc-001")
	require.NoError(t, err)
	assert.True(t, online)

	clk.Advance(time.Second)
	online, err = svc.IsOnline(ctx, "pc-001")
	require.NoError(t, err)
	assert.False(t, online)

	clk.Advance(time.Second)
	online, err = svc.IsOnline(ctx, "pc-001")
	require.NoError(t, err)
	assert.False(t, online)

	_, err = svc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-001", Platform: "linux", Version: "1.0"})
	require.NoError(t, err)
	online, err = svc.IsOnline(ctx, "pc-001")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestUnknownAgentIsOffline(t *testing.T) {
	svc, _, _ := newService(t)

	online, err := svc.IsOnline(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, online)

	_, err = svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, agents.ErrAgentNotFound)
}

func TestRecordContactUpdatesMetricsAndAudits(t *testing.T) {
	svc, clk, recorder := newService(t)
	ctx := context.Background()

	_, err := svc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-001", Version: "1.0"})
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	_, err = svc.RecordContact(ctx, agents.Heartbeat{
		AgentID: "pc-001",
		Version: "1.1",
		Metrics: agents.Metrics{CPUPercent: 42, Mode: "SAFE"},
	})
	require.NoError(t, err)

	v, err := svc.Get(ctx, "pc-001")
	require.NoError(t, err)
	assert.Equal(t, "1.1", v.Version)
	assert.Equal(t, "SAFE", v.Metrics.Mode)
	assert.Equal(t, start, v.FirstSeen)
	assert.Equal(t, start.Add(10*time.Second), v.LastContact)
	assert.True(t, v.Online)
	assert.Zero(t, v.SinceContact)

	events, err := recorder.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, audit.EventAgentHeartbeat, events[0].Type)
	assert.Equal(t, "agent:pc-001", events[0].Actor)
}

func TestListDerivesLiveness(t *testing.T) {
	svc, clk, _ := newService(t)
	ctx := context.Background()

	_, err := svc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-001"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = svc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-002"})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pc-001", list[0].ID)
	assert.False(t, list[0].Online)
	assert.Equal(t, time.Minute, list[0].SinceContact)
	assert.True(t, list[1].Online)
}

func TestRecordError(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	// unknown agents are ignored
	require.NoError(t, svc.RecordError(ctx, "ghost", "boom"))

	_, err := svc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-001"})
	require.NoError(t, err)
	require.NoError(t, svc.RecordError(ctx, "pc-001", "disk full"))

	v, err := svc.Get(ctx, "pc-001")
	require.NoError(t, err)
	assert.Equal(t, "disk full", v.LastError)
	require.NotNil(t, v.LastErrorAt)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, agents.ValidateID("pc-001"))
	assert.NoError(t, agents.ValidateID("edge.node_7"))
	assert.ErrorIs(t, agents.ValidateID(""), agents.ErrInvalidAgentID)
	assert.ErrorIs(t, agents.ValidateID("-leading"), agents.ErrInvalidAgentID)
	assert.ErrorIs(t, agents.ValidateID("has space"), agents.ErrInvalidAgentID)
	assert.ErrorIs(t, agents.ValidateID("../etc"), agents.ErrInvalidAgentID)
}
