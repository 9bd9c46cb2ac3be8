package property

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/novaland/parley/internal/chain"
)

// Source enumerates the contract's listings. The contract exposes no per-id
// getter, so misses are filled by refetching the full set.
type Source interface {
	Properties(ctx context.Context) ([]chain.Property, error)
}

// Cache is the session's lazily-populated projection of on-chain listing
// state. It lives for the whole process and is never evicted; it is soft
// state, re-validated by the purchase path before any currency moves.
type Cache struct {
	source Source
	logger *zap.Logger

	mu   sync.RWMutex
	byID map[uint64]chain.Property
}

// NewCache creates an empty cache over the given source.
func NewCache(source Source, logger *zap.Logger) *Cache {
	return &Cache{
		source: source,
		logger: logger,
		byID:   make(map[uint64]chain.Property),
	}
}

// Prime bulk-fills the cache from the chain. Called once on connect; safe to
// call again (a refill replaces stale entries).
func (c *Cache) Prime(ctx context.Context) error {
	props, err := c.source.Properties(ctx)
	if err != nil {
		return fmt.Errorf("prime property cache: %w", err)
	}
	c.mu.Lock()
	for _, p := range props {
		c.byID[p.ID] = p
	}
	c.mu.Unlock()
	c.logger.Info("property cache primed", zap.Int("properties", len(props)))
	return nil
}

// Get returns the cached record for a property, if present.
func (c *Cache) Get(id uint64) (chain.Property, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// Resolve returns the record for a property, fetching from the chain and
// populating the cache on a miss.
func (c *Cache) Resolve(ctx context.Context, id uint64) (chain.Property, error) {
	if p, ok := c.Get(id); ok {
		return p, nil
	}
	if err := c.Prime(ctx); err != nil {
		return chain.Property{}, err
	}
	p, ok := c.Get(id)
	if !ok {
		return chain.Property{}, fmt.Errorf("property %d not found on chain", id)
	}
	return p, nil
}

// Refresh drops the entry for a property and refills from the chain. Used
// after a purchase, when ownership and the listing flag have changed.
func (c *Cache) Refresh(ctx context.Context, id uint64) error {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()
	return c.Prime(ctx)
}

// Snapshot returns a copy of the cached records.
func (c *Cache) Snapshot() map[uint64]chain.Property {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]chain.Property, len(c.byID))
	for id, p := range c.byID {
		out[id] = p
	}
	return out
}
