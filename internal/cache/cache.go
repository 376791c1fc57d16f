// Package cache holds the last-synchronized contents of each collection
// for the lifetime of one application instance.
package cache

import (
	"sync"

	"github.com/passionistravel/travelstore/internal/schema"
)

// Cache maps collection names to record snapshots. It is safe for
// concurrent use. Snapshots are replaced wholesale by sync and adjusted by
// the facade's own writes; nothing is evicted.
type Cache struct {
	mu   sync.RWMutex
	data map[string][]schema.Record
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{data: make(map[string][]schema.Record)}
}

// Snapshot returns a copy of the cached records of a collection.
// The slice is never nil.
func (c *Cache) Snapshot(collection string) []schema.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs := c.data[collection]
	out := make([]schema.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, cloneOrSame(r))
	}
	return out
}

// Get returns the cached record with the given key, or nil.
func (c *Cache) Get(collection, pk, id string) schema.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.data[collection] {
		if key, ok := r.Key(pk); ok && key == id {
			return cloneOrSame(r)
		}
	}
	return nil
}

// Replace overwrites the snapshot of a collection.
func (c *Cache) Replace(collection string, recs []schema.Record) {
	cp := make([]schema.Record, 0, len(recs))
	for _, r := range recs {
		cp = append(cp, cloneOrSame(r))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[collection] = cp
}

// Upsert replaces the record with the same key, or appends it.
func (c *Cache) Upsert(collection, pk string, rec schema.Record) {
	id, ok := rec.Key(pk)
	if !ok {
		return
	}
	cp := cloneOrSame(rec)

	c.mu.Lock()
	defer c.mu.Unlock()

	recs := c.data[collection]
	for i, r := range recs {
		if key, ok := r.Key(pk); ok && key == id {
			recs[i] = cp
			return
		}
	}
	c.data[collection] = append(recs, cp)
}

// Insert appends rec unless a record with the same key is cached. It
// reports whether rec was added.
func (c *Cache) Insert(collection, pk string, rec schema.Record) bool {
	id, ok := rec.Key(pk)
	if !ok {
		return false
	}
	cp := cloneOrSame(rec)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.data[collection] {
		if key, ok := r.Key(pk); ok && key == id {
			return false
		}
	}
	c.data[collection] = append(c.data[collection], cp)
	return true
}

// Remove drops the record with the given key.
func (c *Cache) Remove(collection, pk, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs := c.data[collection]
	kept := recs[:0]
	for _, r := range recs {
		if key, ok := r.Key(pk); ok && key == id {
			continue
		}
		kept = append(kept, r)
	}
	c.data[collection] = kept
}

// Clear empties the snapshot of a collection.
func (c *Cache) Clear(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[collection] = nil
}

// cloneOrSame deep-copies r. Records that cannot be encoded never reach
// the cache (stores reject them first), so the original is kept on error.
func cloneOrSame(r schema.Record) schema.Record {
	cp, err := r.Clone()
	if err != nil {
		return r
	}
	return cp
}
