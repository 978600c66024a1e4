package enrollment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EternisAI/silo-fleet/internal/clock"
)

const keyPrefix = "ek_"

var (
	ErrKeyNotFound    = errors.New("enrollment key not found")
	ErrKeyExpired     = errors.New("enrollment key has expired")
	ErrKeyAlreadyUsed = errors.New("enrollment key has already been used")
)

// Key is a one-time secret an operator hands to a new agent.
type Key struct {
	Key       string    `json:"key,omitempty"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"-"`
}

// KeyStore holds outstanding enrollment keys in memory. Keys do not survive a
// restart; an operator reissues them.
type KeyStore struct {
	mu    sync.Mutex
	keys  map[string]*Key
	ttl   time.Duration
	clock clock.Clock
}

func NewKeyStore(ttl time.Duration, clk clock.Clock) *KeyStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &KeyStore{
		keys:  make(map[string]*Key),
		ttl:   ttl,
		clock: clk,
	}
}

func (ks *KeyStore) Create(agentID string) (Key, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return Key{}, fmt.Errorf("failed to generate random key: %w", err)
	}

	now := ks.clock.Now().UTC()
	k := &Key{
		Key:       keyPrefix + hex.EncodeToString(b),
		AgentID:   agentID,
		CreatedAt: now,
		ExpiresAt: now.Add(ks.ttl),
	}

	ks.mu.Lock()
	ks.keys[k.Key] = k
	ks.mu.Unlock()

	slog.Info("Enrollment key created", "agent_id", agentID, "expires_at", k.ExpiresAt)
	return *k, nil
}

// Consume validates the key and marks it used in one step, so two agents racing
// with the same key cannot both enroll.
func (ks *KeyStore) Consume(key string) (Key, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	k, ok := ks.keys[key]
	if !ok {
		return Key{}, ErrKeyNotFound
	}
	if k.Used {
		return Key{}, ErrKeyAlreadyUsed
	}
	if !ks.clock.Now().Before(k.ExpiresAt) {
		return Key{}, ErrKeyExpired
	}

	k.Used = true
	return *k, nil
}

// Revoke removes every outstanding key of the agent.
func (ks *KeyStore) Revoke(agentID string) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	removed := false
	for key, k := range ks.keys {
		if k.AgentID == agentID {
			delete(ks.keys, key)
			removed = true
		}
	}
	return removed
}

// List returns the keys that can still be used, with the secret redacted.
func (ks *KeyStore) List() []Key {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := ks.clock.Now()
	result := make([]Key, 0, len(ks.keys))
	for _, k := range ks.keys {
		if k.Used || !now.Before(k.ExpiresAt) {
			continue
		}
		result = append(result, Key{
			AgentID:   k.AgentID,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (ks *KeyStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ks.cleanup()
		}
	}
}

func (ks *KeyStore) cleanup() int {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := ks.clock.Now()
	removed := 0
	for key, k := range ks.keys {
		if k.Used || !now.Before(k.ExpiresAt) {
			delete(ks.keys, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Cleaned up enrollment keys", "removed", removed)
	}
	return removed
}
