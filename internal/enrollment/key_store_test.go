package enrollment

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreate(t *testing.T) {
	ks := NewKeyStore(time.Hour, clock.NewFake(start))

	k, err := ks.Create("edge-1")
	require.NoError(t, err)
	assert.Equal(t, "edge-1", k.AgentID)
	assert.True(t, strings.HasPrefix(k.Key, "ek_"))
	assert.Len(t, k.Key, 3+64)
	assert.Equal(t, start.Add(time.Hour), k.ExpiresAt)
}

func TestConsume(t *testing.T) {
	ks := NewKeyStore(time.Hour, clock.NewFake(start))

	k, err := ks.Create("edge-1")
	require.NoError(t, err)

	got, err := ks.Consume(k.Key)
	require.NoError(t, err)
	assert.Equal(t, "edge-1", got.AgentID)

	_, err = ks.Consume(k.Key)
	assert.ErrorIs(t, err, ErrKeyAlreadyUsed)
}

func TestConsumeNotFound(t *testing.T) {
	ks := NewKeyStore(time.Hour, nil)

	_, err := ks.Consume("ek_nonexistent")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestConsumeExpired(t *testing.T) {
	clk := clock.NewFake(start)
	ks := NewKeyStore(time.Minute, clk)

	k, err := ks.Create("edge-1")
	require.NoError(t, err)

	clk.Advance(time.Minute)

	_, err = ks.Consume(k.Key)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

func TestConsumeConcurrentOnlyOnce(t *testing.T) {
	ks := NewKeyStore(time.Hour, nil)
	k, err := ks.Create("edge-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ks.Consume(k.Key); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestRevoke(t *testing.T) {
	ks := NewKeyStore(time.Hour, nil)

	k1, err := ks.Create("edge-1")
	require.NoError(t, err)
	_, err = ks.Create("edge-1")
	require.NoError(t, err)
	_, err = ks.Create("edge-2")
	require.NoError(t, err)

	assert.True(t, ks.Revoke("edge-1"))
	assert.False(t, ks.Revoke("edge-404"))

	_, err = ks.Consume(k1.Key)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	keys := ks.List()
	require.Len(t, keys, 1)
	assert.Equal(t, "edge-2", keys[0].AgentID)
}

func TestListRedactsAndSkipsUnusable(t *testing.T) {
	clk := clock.NewFake(start)
	ks := NewKeyStore(time.Hour, clk)

	_, err := ks.Create("edge-expired")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	used, err := ks.Create("edge-used")
	require.NoError(t, err)
	_, err = ks.Consume(used.Key)
	require.NoError(t, err)

	_, err = ks.Create("edge-active")
	require.NoError(t, err)

	keys := ks.List()
	require.Len(t, keys, 1)
	assert.Equal(t, "edge-active", keys[0].AgentID)
	assert.Empty(t, keys[0].Key)
}

func TestCleanup(t *testing.T) {
	clk := clock.NewFake(start)
	ks := NewKeyStore(time.Minute, clk)

	_, err := ks.Create("edge-1")
	require.NoError(t, err)
	_, err = ks.Create("edge-2")
	require.NoError(t, err)

	assert.Equal(t, 0, ks.cleanup())
	clk.Advance(time.Minute)
	assert.Equal(t, 2, ks.cleanup())
	assert.Empty(t, ks.List())
}
