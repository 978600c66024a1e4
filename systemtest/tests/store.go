package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/db"
	"github.com/EternisAI/silo-fleet/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommandService(store *db.Store, clk clock.Clock) *commands.Service {
	recorder := audit.NewRecorder(store, events.Noop{}, clk)
	return commands.NewService(store, store, approval.NewGate(approval.Policy{}), recorder, clk)
}

// TestStoreConcurrentPulls checks that concurrent pulls for one agent hand
// out each command once per pull and that every listed command ends up
// delivered exactly once.
func TestStoreConcurrentPulls(t *testing.T, store *db.Store) {
	ctx := context.Background()
	svc := newCommandService(store, clock.Real{})

	const total = 10
	created := make(map[string]bool, total)
	for i := 0; i < total; i++ {
		cmd, err := svc.Enqueue(ctx, "user:alice", "pc-300", commands.TypeNotifyOps, commands.Payload{"severity": "info", "message": "n"})
		require.NoError(t, err)
		created[cmd.ID] = true
	}

	var wg sync.WaitGroup
	results := make([][]commands.Command, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ListReady(ctx, "pc-300")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		seen := make(map[string]bool)
		for _, cmd := range results[i] {
			assert.False(t, seen[cmd.ID], "command listed twice in one pull")
			seen[cmd.ID] = true
			assert.True(t, created[cmd.ID])
		}
	}

	for id := range created {
		cmd, err := store.GetCommand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, commands.StatusDelivered, cmd.Status)
		assert.Equal(t, 1, cmd.DeliveryCount)
	}
}

// TestStoreConcurrentApprovals checks that racing approvals leave one row.
func TestStoreConcurrentApprovals(t *testing.T, store *db.Store) {
	ctx := context.Background()
	svc := newCommandService(store, clock.Real{})

	cmd, err := svc.Enqueue(ctx, "user:alice", "pc-301", commands.TypeStopProcess, commands.Payload{"process": "inference"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Approve(ctx, "alice", cmd.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, approval.ErrAlreadyApproved)
	}
	assert.Equal(t, 1, succeeded)

	ready, err := svc.ListReady(ctx, "pc-301")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, cmd.ID, ready[0].ID)
}

// TestStoreRequeue checks the stale delivery reaper against Postgres.
func TestStoreRequeue(t *testing.T, store *db.Store) {
	ctx := context.Background()
	clk := clock.NewFake(time.Now().UTC())
	svc := newCommandService(store, clk)
	recorder := audit.NewRecorder(store, events.Noop{}, clk)
	agentSvc := agents.NewService(store, recorder, clk, 30*time.Second)

	_, err := agentSvc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-302", Platform: "linux"})
	require.NoError(t, err)

	cmd, err := svc.Enqueue(ctx, "user:alice", "pc-302", commands.TypeSetMode, commands.Payload{"mode": "SAFE"})
	require.NoError(t, err)
	ready, err := svc.ListReady(ctx, "pc-302")
	require.NoError(t, err)
	require.Len(t, ready, 1)

	clk.Advance(2 * time.Minute)
	// Deliveries left behind by earlier subtests are stale too.
	moved, err := svc.RequeueStale(ctx, agentSvc, time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, moved, 1)

	got, err := store.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, commands.StatusPending, got.Status)
	assert.Nil(t, got.DeliveredAt)

	_, err = agentSvc.RecordContact(ctx, agents.Heartbeat{AgentID: "pc-302", Platform: "linux"})
	require.NoError(t, err)
	ready, err = svc.ListReady(ctx, "pc-302")
	require.NoError(t, err)
	require.Len(t, ready, 1)

	got, err = store.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.DeliveryCount)
}
