package tenant

import (
	"context"
	"sync"
	"time"

	contractx "github.com/kwkraus/fleet-assistant/agent/contract"
)

const DefaultCacheTTL = 30 * time.Minute

// CachedConfigStore wraps a ConfigStore with a bounded per-tenant TTL.
// Configuration reads are read-mostly; a stale view inside the TTL is
// accepted (eventual consistency of integration toggles).
type CachedConfigStore struct {
	inner contractx.ConfigStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	keys   []string
	loaded time.Time
}

var _ contractx.ConfigStore = (*CachedConfigStore)(nil)

func NewCachedConfigStore(inner contractx.ConfigStore, ttl time.Duration) *CachedConfigStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedConfigStore{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedConfigStore) GetEnabledIntegrations(ctx context.Context, tenantID string) ([]string, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && now.Sub(entry.loaded) < c.ttl {
		return append([]string(nil), entry.keys...), nil
	}

	keys, err := c.inner.GetEnabledIntegrations(ctx, tenantID)
	if err != nil {
		// Serve a stale entry over failing the request.
		if ok {
			return append([]string(nil), entry.keys...), nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[tenantID] = cacheEntry{keys: append([]string(nil), keys...), loaded: now}
	c.mu.Unlock()

	return keys, nil
}

// Invalidate drops one tenant's cached entry.
func (c *CachedConfigStore) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}
