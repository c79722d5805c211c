// Package catalog implements the per-user TTL-bounded runtime catalog
// cache keyed by a stable hash of the catalog payload.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type entry struct {
	userID string
	payload map[string]any
	createdAt time.Time
	expiresAt time.Time
}

// Cache is the per-user, TTL-bounded catalog store. Expired entries are
// swept lazily on every access rather than by a background sweeper.
type Cache struct {
	mu sync.Mutex
	entries map[string]*entry // catalog_id -> entry
}

func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// stableKey hashes the payload after recursively sorting map keys, so the
// result is independent of JSON key ordering.
func stableKey(payload map[string]any) string {
	canonical := canonicalize(payload)
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:20]
}

func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k, canonicalize(val[k]))
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return val
	}
}

func (c *Cache) sweep(now time.Time) {
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
}

// GetOrCreate returns (catalog_id, created) for payload. An existing live
// entry for the same payload has its expiry extended to now + max(60, ttlSec).
func (c *Cache) GetOrCreate(userID string, payload map[string]any, ttlSec int) (string, bool) {
	now := time.Now()
	key := stableKey(payload)
	catalogID := "catalog_" + key

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(now)

	ttl := time.Duration(ttlSec) * time.Second
	if ttl < 60*time.Second {
		ttl = 60 * time.Second
	}

	if e, ok := c.entries[catalogID]; ok {
		e.expiresAt = now.Add(ttl)
		return catalogID, false
	}

	c.entries[catalogID] = &entry{
		userID: userID,
		payload: payload,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	return catalogID, true
}

// Get returns a deep copy of the payload for catalogID, or nil when missing
// or expired.
func (c *Cache) Get(catalogID string) map[string]any {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(now)

	e, ok := c.entries[catalogID]
	if !ok {
		return nil
	}
	return deepCopy(e.payload)
}

func deepCopy(v map[string]any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Invalidate drops every entry owned by userID.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if e.userID == userID {
			delete(c.entries, id)
		}
	}
}
