package agentclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTransport struct {
	calls int
	err   error
}

func (c *countingTransport) Heartbeat(context.Context, dto.HeartbeatRequest) error {
	c.calls++
	return c.err
}

func (c *countingTransport) ShipLogs(context.Context, []dto.LogEntry) error {
	c.calls++
	return c.err
}

func (c *countingTransport) Pull(context.Context) ([]dto.PulledCommand, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []dto.PulledCommand{{ID: "c1"}}, nil
}

func (c *countingTransport) Report(context.Context, dto.ReportRequest) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return dto.StatusOK, nil
}

var _ agent.Transport = (*Breaker)(nil)

func TestBreakerPassesThrough(t *testing.T) {
	next := &countingTransport{}
	b := NewBreaker(next, BreakerConfig{})

	cmds, err := b.Pull(context.Background())
	require.NoError(t, err)
	assert.Len(t, cmds, 1)

	status, err := b.Report(context.Background(), dto.ReportRequest{CommandID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, dto.StatusOK, status)
	assert.Equal(t, 2, next.calls)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	next := &countingTransport{err: errors.New("connection refused")}
	b := NewBreaker(next, BreakerConfig{Failures: 3, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		err := b.Heartbeat(context.Background(), dto.HeartbeatRequest{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.ShipLogs(context.Background(), nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, next.calls)
}

func TestBreakerIgnoresRejectedCredentials(t *testing.T) {
	next := &countingTransport{err: agent.ErrUnauthorized}
	b := NewBreaker(next, BreakerConfig{Failures: 2})

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, b.Heartbeat(context.Background(), dto.HeartbeatRequest{}), agent.ErrUnauthorized)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	next := &countingTransport{err: errors.New("down")}
	b := NewBreaker(next, BreakerConfig{Failures: 1, Timeout: 10 * time.Millisecond})

	require.Error(t, b.Heartbeat(context.Background(), dto.HeartbeatRequest{}))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	next.err = nil
	require.NoError(t, b.Heartbeat(context.Background(), dto.HeartbeatRequest{}))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
