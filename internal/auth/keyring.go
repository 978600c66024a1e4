package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseKeyRing reads the static agent key ring. Two forms are accepted: a
// comma separated list of agent=key pairs, or a JSON object mapping agent ids
// to keys. Keys may be plaintext or bcrypt hashes.
func ParseKeyRing(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	ring := make(map[string]string)
	if raw == "" {
		return ring, nil
	}

	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &ring); err != nil {
			return nil, fmt.Errorf("invalid agent key ring json: %w", err)
		}
		for id, key := range ring {
			if strings.TrimSpace(id) == "" || key == "" {
				return nil, fmt.Errorf("invalid agent key ring entry %q", id)
			}
		}
		return ring, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, key, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		key = strings.TrimSpace(key)
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("invalid agent key ring entry %q", pair)
		}
		ring[id] = key
	}
	return ring, nil
}
