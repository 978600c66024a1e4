package agent

import (
	"sync"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
)

// LogBuffer holds collected entries until they are shipped. It is bounded and
// drops the oldest entries on overflow.
type LogBuffer struct {
	mu      sync.Mutex
	entries []dto.LogEntry
	max     int
	dropped int
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = DefaultBufferMaxEntries
	}
	return &LogBuffer{max: max}
}

func (b *LogBuffer) Append(entries ...dto.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entries...)
	b.trim()
}

// Take removes and returns up to n entries from the front.
func (b *LogBuffer) Take(n int) []dto.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.entries) {
		n = len(b.entries)
	}
	if n == 0 {
		return nil
	}
	batch := make([]dto.LogEntry, n)
	copy(batch, b.entries[:n])
	b.entries = append(b.entries[:0:0], b.entries[n:]...)
	return batch
}

// Restore puts a batch that failed to ship back in front of anything
// collected since it was taken.
func (b *LogBuffer) Restore(batch []dto.LogEntry) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]dto.LogEntry, 0, len(batch)+len(b.entries))
	merged = append(merged, batch...)
	merged = append(merged, b.entries...)
	b.entries = merged
	b.trim()
}

func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped is the number of entries discarded on overflow so far.
func (b *LogBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *LogBuffer) trim() {
	if over := len(b.entries) - b.max; over > 0 {
		b.dropped += over
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
	}
}
