package logs_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/events"
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/EternisAI/silo-fleet/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu       sync.Mutex
	messages map[string][]any
	err      error
}

func (p *capturePublisher) Publish(_ context.Context, channel string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = map[string][]any{}
	}
	p.messages[channel] = append(p.messages[channel], payload)
	return p.err
}

func (p *capturePublisher) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[channel])
}

type fixture struct {
	svc       *logs.Service
	agents    *agents.Service
	publisher *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(start)
	store := memory.New()
	publisher := &capturePublisher{}
	recorder := audit.NewRecorder(store, publisher, clk)
	agentSvc := agents.NewService(store, recorder, clk, 0)
	return &fixture{
		svc:       logs.NewService(store, agentSvc, recorder, publisher, clk),
		agents:    agentSvc,
		publisher: publisher,
	}
}

func TestShip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.agents.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-001"})
	require.NoError(t, err)

	summary, err := f.svc.Ship(ctx, "pc-001", []logs.Entry{
		{Level: "info", Message: "started"},
		{Level: "WARNING", Message: "slow response"},
		{Level: "error", Code: "E_DB", Message: "db unreachable"},
		{Level: "fatal", Code: "E_OOM", Message: "out of memory"},
	})
	require.NoError(t, err)
	assert.Equal(t, logs.Summary{Count: 4, Errors: 2}, summary)

	got, err := f.svc.Recent(ctx, logs.Query{AgentID: "pc-001"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, logs.LevelCritical, got[0].Level)
	assert.Equal(t, logs.LevelWarn, got[2].Level)
	assert.Equal(t, start, got[0].Timestamp)

	v, err := f.agents.Get(ctx, "pc-001")
	require.NoError(t, err)
	assert.Equal(t, "out of memory", v.LastError)

	assert.Equal(t, 2, f.publisher.count(events.ChannelIncidents))
}

func TestShipTruncatesMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	long := strings.Repeat("é", logs.MaxMessageLength)
	_, err := f.svc.Ship(ctx, "pc-001", []logs.Entry{{Level: "INFO", Message: long}})
	require.NoError(t, err)

	got, err := f.svc.Recent(ctx, logs.Query{AgentID: "pc-001"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.LessOrEqual(t, len(got[0].Message), logs.MaxMessageLength)
	assert.True(t, strings.HasPrefix(long, got[0].Message))
}

func TestShipStripsNULBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.agents.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-001"})
	require.NoError(t, err)

	_, err = f.svc.Ship(ctx, "pc-001", []logs.Entry{{
		Level:   "ERROR",
		Code:    "E_\x00DISK",
		Message: "disk \x00\x00 corrupt\xff",
		Meta:    map[string]any{"file": "/var/log/\x00app.log", "line": 7},
	}})
	require.NoError(t, err)

	got, err := f.svc.Recent(ctx, logs.Query{AgentID: "pc-001"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "E_DISK", got[0].Code)
	assert.Equal(t, "disk  corrupt\uFFFD", got[0].Message)
	assert.Equal(t, "/var/log/app.log", got[0].Meta["file"])
	assert.Equal(t, 7, got[0].Meta["line"])

	v, err := f.agents.Get(ctx, "pc-001")
	require.NoError(t, err)
	assert.NotContains(t, v.LastError, "\x00")

	require.Equal(t, 1, f.publisher.count(events.ChannelIncidents))
	candidate, ok := f.publisher.messages[events.ChannelIncidents][0].(logs.IncidentCandidate)
	require.True(t, ok)
	assert.Equal(t, "E_DISK", candidate.Code)
	assert.NotContains(t, candidate.Message, "\x00")
}

func TestShipRejectsOversizedBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ship(context.Background(), "pc-001", make([]logs.Entry, logs.MaxBatchSize+1))
	assert.ErrorIs(t, err, logs.ErrBatchTooLarge)
}

func TestShipEmptyBatch(t *testing.T) {
	f := newFixture(t)

	summary, err := f.svc.Ship(context.Background(), "pc-001", nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Count)
}

func TestShipToleratesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	summary, err := f.svc.Ship(context.Background(), "pc-001", []logs.Entry{{Level: "ERROR", Message: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
}

func TestShipDuplicatesAreStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch := []logs.Entry{{Level: "INFO", Message: "same"}}

	_, err := f.svc.Ship(ctx, "pc-001", batch)
	require.NoError(t, err)
	_, err = f.svc.Ship(ctx, "pc-001", batch)
	require.NoError(t, err)

	got, err := f.svc.Recent(ctx, logs.Query{AgentID: "pc-001"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestNormalizeLevel(t *testing.T) {
	assert.Equal(t, logs.LevelWarn, logs.NormalizeLevel("warning"))
	assert.Equal(t, logs.LevelCritical, logs.NormalizeLevel("FATAL"))
	assert.Equal(t, logs.LevelDebug, logs.NormalizeLevel(" debug "))
	assert.Equal(t, logs.LevelInfo, logs.NormalizeLevel("verbose"))
	assert.True(t, logs.LevelCritical.IsError())
	assert.False(t, logs.LevelWarn.IsError())
}
