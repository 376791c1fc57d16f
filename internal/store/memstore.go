// Package store provides persistence for travelstore.
// This file contains the in-memory implementation used for testing.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/passionistravel/travelstore/internal/schema"
)

// MemStore is an in-memory implementation of Storer for testing.
// Records are stored as encoded JSON so reads always return fresh copies.
type MemStore struct {
	mu       sync.RWMutex
	registry schema.Registry
	tables   map[string]map[string][]byte
	closed   bool
}

// NewMemStore creates a new in-memory store with one table per collection.
func NewMemStore(reg schema.Registry) *MemStore {
	s := &MemStore{
		registry: reg,
		tables:   make(map[string]map[string][]byte, len(reg)),
	}
	for _, c := range reg {
		s.tables[c.Name] = make(map[string][]byte)
	}
	return s
}

// Close marks the store closed. Subsequent calls fail with ErrStoreUnavailable.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemStore) table(name string) (schema.Collection, map[string][]byte, error) {
	if s.closed {
		return schema.Collection{}, nil, ErrStoreUnavailable
	}
	c, err := resolve(s.registry, name)
	if err != nil {
		return c, nil, err
	}
	return c, s.tables[name], nil
}

// =============================================================================
// Reads
// =============================================================================

func (s *MemStore) GetAll(ctx context.Context, collection string) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, tbl, err := s.table(collection)
	if err != nil {
		return nil, err
	}
	return decodeSorted(tbl, nil)
}

func (s *MemStore) GetByID(ctx context.Context, collection, id string) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, tbl, err := s.table(collection)
	if err != nil {
		return nil, err
	}
	data, ok := tbl[id]
	if !ok {
		return nil, nil
	}
	return schema.DecodeRecord(data)
}

func (s *MemStore) FindBy(ctx context.Context, collection, field string, value any) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, tbl, err := s.table(collection)
	if err != nil {
		return nil, err
	}
	if err := resolveIndex(c, field); err != nil {
		return nil, err
	}

	want, err := normalize(value)
	if err != nil {
		return nil, err
	}
	return decodeSorted(tbl, func(r schema.Record) bool {
		return reflect.DeepEqual(r[field], want)
	})
}

func (s *MemStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, tbl, err := s.table(collection)
	if err != nil {
		return 0, err
	}
	return len(tbl), nil
}

// =============================================================================
// Writes
// =============================================================================

func (s *MemStore) Put(ctx context.Context, collection string, rec schema.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, tbl, err := s.table(collection)
	if err != nil {
		return err
	}
	key, err := recordKey(c, rec)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	tbl[key] = data
	return nil
}

func (s *MemStore) Add(ctx context.Context, collection string, rec schema.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, tbl, err := s.table(collection)
	if err != nil {
		return "", err
	}
	key, err := recordKey(c, rec)
	if err != nil {
		return "", err
	}
	if _, exists := tbl[key]; exists {
		return "", fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, key)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	tbl[key] = data
	return key, nil
}

func (s *MemStore) Remove(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, tbl, err := s.table(collection)
	if err != nil {
		return err
	}
	delete(tbl, id)
	return nil
}

func (s *MemStore) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.table(collection); err != nil {
		return err
	}
	s.tables[collection] = make(map[string][]byte)
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// decodeSorted decodes every row of tbl in key order, keeping rows that
// match keep (all rows when keep is nil).
func decodeSorted(tbl map[string][]byte, keep func(schema.Record) bool) ([]schema.Record, error) {
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]schema.Record, 0, len(keys))
	for _, k := range keys {
		r, err := schema.DecodeRecord(tbl[k])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		if keep == nil || keep(r) {
			result = append(result, r)
		}
	}
	return result, nil
}

// normalize gives v the shape it would have after a JSON round trip.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Compile-time interface check
var _ Storer = (*MemStore)(nil)
