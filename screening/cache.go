package screening

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
)

// DecisionCache keeps recent decisions by fingerprint. Get never returns an
// expired decision, and a miss looks the same as a fingerprint that was never
// stored. Implementations must be safe for concurrent use.
type DecisionCache interface {
	Get(ctx context.Context, fp Fingerprint) (Decision, bool, error)
	Put(ctx context.Context, fp Fingerprint, decision Decision, ttl time.Duration) error
}

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
}

// MemoryCache is an in-process DecisionCache bounded by capacity. When full
// it evicts the least recently used entry regardless of its verdict.
type MemoryCache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[Fingerprint, cacheEntry]
	now     func() time.Time
}

func NewMemoryCache(capacity int) (*MemoryCache, error) {
	entries, err := simplelru.NewLRU[Fingerprint, cacheEntry](capacity, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create decision cache")
	}
	return &MemoryCache{
		entries: entries,
		now:     time.Now,
	}, nil
}

func (c *MemoryCache) Get(_ context.Context, fp Fingerprint) (Decision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(fp)
	if !ok {
		return Decision{}, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(fp)
		return Decision{}, false, nil
	}
	return entry.decision, true, nil
}

func (c *MemoryCache) Put(_ context.Context, fp Fingerprint, decision Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("invalid ttl %s for %s", ttl, fp)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(fp, cacheEntry{
		decision:  decision,
		expiresAt: c.now().Add(ttl),
	})
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// removed.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
