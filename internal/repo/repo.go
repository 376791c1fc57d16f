// Package repo is the single entry point the application uses for
// persistence. It routes every operation through the durable store, keeps
// the flat-file mirror and the in-memory cache in step, and falls back to
// them when the durable store cannot serve a read.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/passionistravel/travelstore/internal/cache"
	"github.com/passionistravel/travelstore/internal/schema"
	"github.com/passionistravel/travelstore/internal/store"
)

// Mirror is the flat-file shadow the facade writes through to.
// *mirror.Mirror implements it.
type Mirror interface {
	Read(collection string) ([]schema.Record, error)
	Write(collection string, recs []schema.Record) error
	Append(collection string, rec schema.Record) error
	Upsert(collection, pk string, rec schema.Record) error
	Remove(collection, pk, id string) error
	Clear(collection string) error
	PutValue(key string, v any) error
}

// Mode reports whether the durable store is attached.
type Mode string

const (
	ModeDurable  Mode = "durable"
	ModeDegraded Mode = "degraded"
)

// Repository is the persistence facade.
type Repository struct {
	durable  store.Storer
	mirror   Mirror
	cache    *cache.Cache
	registry schema.Registry
	log      zerolog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Repository) { r.log = l }
}

// WithRegistry overrides schema.Default.
func WithRegistry(reg schema.Registry) Option {
	return func(r *Repository) { r.registry = reg }
}

// New builds a facade. durable may be nil, in which case the facade runs in
// degraded mode on the mirror and cache alone.
func New(durable store.Storer, m Mirror, c *cache.Cache, opts ...Option) *Repository {
	r := &Repository{
		durable:  durable,
		mirror:   m,
		cache:    c,
		registry: schema.Default,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New()
	}
	return r
}

// Mode reports ModeDegraded when no durable store is attached.
func (r *Repository) Mode() Mode {
	if r.durable == nil {
		return ModeDegraded
	}
	return ModeDurable
}

// Registry returns the collections this facade serves.
func (r *Repository) Registry() schema.Registry {
	return r.registry
}

// Close releases the durable store, if any.
func (r *Repository) Close() error {
	if r.durable == nil {
		return nil
	}
	return r.durable.Close()
}

// =============================================================================
// Reads
// =============================================================================

// GetAll returns every record of a collection. When the durable read fails
// the last cached snapshot is returned instead; the only error is an
// unknown collection.
func (r *Repository) GetAll(ctx context.Context, collection string) ([]schema.Record, error) {
	if _, err := r.collection(collection); err != nil {
		return nil, err
	}
	if r.durable == nil {
		return r.cache.Snapshot(collection), nil
	}

	recs, err := r.durable.GetAll(ctx, collection)
	if err != nil {
		r.log.Warn().Err(err).Str("collection", collection).Msg("durable read failed, serving cache")
		return r.cache.Snapshot(collection), nil
	}
	return recs, nil
}

// GetByID returns the record with the given key, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, collection, id string) (schema.Record, error) {
	c, err := r.collection(collection)
	if err != nil {
		return nil, err
	}
	if r.durable == nil {
		return r.cache.Get(collection, c.PrimaryKey, id), nil
	}

	rec, err := r.durable.GetByID(ctx, collection, id)
	if err != nil {
		r.log.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("durable read failed, serving cache")
		return r.cache.Get(collection, c.PrimaryKey, id), nil
	}
	return rec, nil
}

// FindBy returns the records whose secondary-index field equals value.
func (r *Repository) FindBy(ctx context.Context, collection, field string, value any) ([]schema.Record, error) {
	c, err := r.collection(collection)
	if err != nil {
		return nil, err
	}
	if !c.HasIndex(field) {
		return nil, fmt.Errorf("%w: %s.%s", store.ErrUnknownIndex, collection, field)
	}
	if r.durable != nil {
		recs, err := r.durable.FindBy(ctx, collection, field, value)
		if err == nil {
			return recs, nil
		}
		r.log.Warn().Err(err).Str("collection", collection).Str("field", field).Msg("durable lookup failed, filtering cache")
	}
	return filter(r.cache.Snapshot(collection), field, value)
}

// =============================================================================
// Writes
// =============================================================================

// Add inserts a new record. The record must carry its primary key; a key
// that already exists fails with store.ErrDuplicateKey.
func (r *Repository) Add(ctx context.Context, collection string, rec schema.Record) (string, error) {
	c, err := r.collection(collection)
	if err != nil {
		return "", err
	}
	key, ok := rec.Key(c.PrimaryKey)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", store.ErrMissingKey, collection, c.PrimaryKey)
	}

	if r.durable != nil {
		if _, err := r.durable.Add(ctx, collection, rec); err != nil {
			r.log.Error().Err(err).Str("collection", collection).Str("id", key).Msg("add failed")
			return "", err
		}
		r.cache.Upsert(collection, c.PrimaryKey, rec)
	} else if !r.cache.Insert(collection, c.PrimaryKey, rec) {
		return "", fmt.Errorf("%w: %s/%s", store.ErrDuplicateKey, collection, key)
	}

	r.mirrorWrite(collection, key, "append", func() error {
		return r.mirror.Append(collection, rec)
	})
	return key, nil
}

// Update inserts or fully replaces a record.
func (r *Repository) Update(ctx context.Context, collection string, rec schema.Record) error {
	c, err := r.collection(collection)
	if err != nil {
		return err
	}
	key, ok := rec.Key(c.PrimaryKey)
	if !ok {
		return fmt.Errorf("%w: %s.%s", store.ErrMissingKey, collection, c.PrimaryKey)
	}

	if r.durable != nil {
		if err := r.durable.Put(ctx, collection, rec); err != nil {
			r.log.Error().Err(err).Str("collection", collection).Str("id", key).Msg("update failed")
			return err
		}
	}

	r.cache.Upsert(collection, c.PrimaryKey, rec)
	r.mirrorWrite(collection, key, "upsert", func() error {
		return r.mirror.Upsert(collection, c.PrimaryKey, rec)
	})
	return nil
}

// Delete removes a record from the durable store, the cache and both
// mirror layouts. Deleting a missing key is not an error.
func (r *Repository) Delete(ctx context.Context, collection, id string) error {
	c, err := r.collection(collection)
	if err != nil {
		return err
	}

	if r.durable != nil {
		if err := r.durable.Remove(ctx, collection, id); err != nil {
			r.log.Error().Err(err).Str("collection", collection).Str("id", id).Msg("delete failed")
			return err
		}
	}

	r.cache.Remove(collection, c.PrimaryKey, id)
	r.mirrorWrite(collection, id, "remove", func() error {
		return r.mirror.Remove(collection, c.PrimaryKey, id)
	})
	return nil
}

// Clear empties a collection in the cache, the mirror and the durable store,
// in that order. A durable failure is logged and not returned.
func (r *Repository) Clear(ctx context.Context, collection string) error {
	if _, err := r.collection(collection); err != nil {
		return err
	}

	r.cache.Clear(collection)
	r.mirrorWrite(collection, "", "clear", func() error {
		return r.mirror.Clear(collection)
	})
	if r.durable != nil {
		if err := r.durable.Clear(ctx, collection); err != nil {
			r.log.Error().Err(err).Str("collection", collection).Msg("durable clear failed")
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Repository) collection(name string) (schema.Collection, error) {
	c, ok := r.registry.Lookup(name)
	if !ok {
		return schema.Collection{}, fmt.Errorf("%w: %q", store.ErrUnknownCollection, name)
	}
	return c, nil
}

// mirrorWrite runs a best-effort mirror update. Failures are logged; the
// durable store stays authoritative.
func (r *Repository) mirrorWrite(collection, id, op string, fn func() error) {
	if r.mirror == nil {
		return
	}
	if err := fn(); err != nil {
		ev := r.log.Warn().Err(err).Str("collection", collection).Str("op", op)
		if id != "" {
			ev = ev.Str("id", id)
		}
		ev.Msg("mirror write failed")
	}
}

// filter keeps the records whose field equals value after JSON
// normalization, matching how the durable store compares.
func filter(recs []schema.Record, field string, value any) ([]schema.Record, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode lookup value: %w", err)
	}
	var want any
	if err := json.Unmarshal(data, &want); err != nil {
		return nil, fmt.Errorf("decode lookup value: %w", err)
	}

	out := make([]schema.Record, 0, len(recs))
	for _, rec := range recs {
		if reflect.DeepEqual(rec[field], want) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// isUnavailable reports whether err means the durable store is gone.
func isUnavailable(err error) bool {
	return errors.Is(err, store.ErrStoreUnavailable)
}
