package tests

import (
	"context"
	"encoding/json"
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

func TestRedisPublisher(t *testing.T, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	publisher, err := events.NewRedisPublisher(ctx, url)
	require.NoError(t, err)
	defer publisher.Close()

	sub := publisher.Subscribe(ctx, events.ChannelAudit, events.ChannelIncidents)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	clk := clock.Real{}
	store := memory.New()
	recorder := audit.NewRecorder(store, publisher, clk)
	agentSvc := agents.NewService(store, recorder, clk, 30*time.Second)
	logSvc := logs.NewService(store, agentSvc, recorder, publisher, clk)

	_, err = logSvc.Ship(ctx, "pc-400", []logs.Entry{{Level: logs.LevelCritical, Code: "E9", Message: "gpu lost"}})
	require.NoError(t, err)

	got := map[string]map[string]any{}
	ch := sub.Channel()
	for len(got) < 2 {
		select {
		case msg := <-ch:
			var payload map[string]any
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
			got[msg.Channel] = payload
		case <-ctx.Done():
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	incident := got[events.ChannelIncidents]
	require.NotNil(t, incident)
	assert.Equal(t, "pc-400", incident["agent_id"])
	assert.Equal(t, "E9", incident["code"])

	event := got[events.ChannelAudit]
	require.NotNil(t, event)
	assert.Equal(t, string(audit.EventAgentLogs), event["type"])
}
