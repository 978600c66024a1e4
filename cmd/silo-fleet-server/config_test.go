package main

import (
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/stretchr/testify/assert"
)

func TestApplyFallbacks(t *testing.T) {
	var c Config
	c.Commands.RedeliverAfter = 5 * time.Minute
	c.Commands.SweepInterval = 0
	c.Liveness.OfflineTimeout = -time.Second

	applyFallbacks(&c)

	assert.Equal(t, commands.DefaultSweepInterval, c.Commands.SweepInterval)
	assert.Equal(t, agents.DefaultOfflineTimeout, c.Liveness.OfflineTimeout)
}

func TestApplyFallbacksKeepsValidValues(t *testing.T) {
	var c Config
	c.Commands.RedeliverAfter = 5 * time.Minute
	c.Commands.SweepInterval = 10 * time.Second
	c.Liveness.OfflineTimeout = time.Minute

	applyFallbacks(&c)

	assert.Equal(t, 10*time.Second, c.Commands.SweepInterval)
	assert.Equal(t, time.Minute, c.Liveness.OfflineTimeout)
}

func TestParseCommaSeparated(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseCommaSeparated(" a, ,b "))
	assert.Empty(t, ParseCommaSeparated(""))
}
