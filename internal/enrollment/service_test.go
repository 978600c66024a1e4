package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(start)
	store := memory.New()
	recorder := audit.NewRecorder(store, nil, clk)
	svc := NewService(NewKeyStore(time.Hour, clk), store, recorder, clk)

	k, err := svc.Keys().Create("edge-7")
	require.NoError(t, err)

	res, err := svc.Enroll(ctx, k.Key)
	require.NoError(t, err)
	assert.Equal(t, "edge-7", res.AgentID)
	assert.NotEmpty(t, res.APIKey)

	// the issued key authenticates, the enrollment key does not work twice
	authn := auth.NewAgentAuthenticator(nil, store)
	assert.NoError(t, authn.Authenticate(ctx, "edge-7", res.APIKey))

	_, err = svc.Enroll(ctx, k.Key)
	assert.ErrorIs(t, err, ErrKeyAlreadyUsed)

	events, err := recorder.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAgentEnrolled, events[0].Type)
	assert.Equal(t, "edge-7", events[0].RefID)
}

func TestEnrollUnknownKey(t *testing.T) {
	store := memory.New()
	svc := NewService(NewKeyStore(time.Hour, nil), store, audit.NewRecorder(store, nil, nil), nil)

	_, err := svc.Enroll(context.Background(), "ek_missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
