package agent

import (
	"fmt"
	"testing"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(from, to int) []dto.LogEntry {
	out := make([]dto.LogEntry, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, dto.LogEntry{Level: "ERROR", Message: fmt.Sprintf("m%d", i)})
	}
	return out
}

func messages(list []dto.LogEntry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Message
	}
	return out
}

func TestLogBufferDropsOldest(t *testing.T) {
	b := NewLogBuffer(3)
	b.Append(entries(0, 5)...)

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 2, b.Dropped())
	assert.Equal(t, []string{"m2", "m3", "m4"}, messages(b.Take(10)))
	assert.Zero(t, b.Len())
}

func TestLogBufferTakeRestore(t *testing.T) {
	b := NewLogBuffer(10)
	b.Append(entries(0, 4)...)

	batch := b.Take(2)
	require.Equal(t, []string{"m0", "m1"}, messages(batch))

	b.Append(entries(4, 5)...)
	b.Restore(batch)

	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, messages(b.Take(10)))
}

func TestLogBufferRestoreOverflow(t *testing.T) {
	b := NewLogBuffer(3)
	b.Append(entries(0, 2)...)
	batch := b.Take(2)
	b.Append(entries(2, 4)...)

	b.Restore(batch)

	assert.Equal(t, []string{"m1", "m2", "m3"}, messages(b.Take(10)))
	assert.Equal(t, 1, b.Dropped())
}

func TestLogBufferTakeEmpty(t *testing.T) {
	b := NewLogBuffer(0)
	assert.Nil(t, b.Take(5))
	b.Restore(nil)
	assert.Zero(t, b.Len())
}
