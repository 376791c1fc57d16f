package repo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sync reloads one collection. The durable contents overwrite the cache
// and the mirror; when the durable store cannot be read the mirror
// repopulates the cache instead. An error is returned only when neither
// source could be read.
func (r *Repository) Sync(ctx context.Context, collection string) error {
	if _, err := r.collection(collection); err != nil {
		return err
	}

	if r.durable != nil {
		recs, err := r.durable.GetAll(ctx, collection)
		if err == nil {
			r.cache.Replace(collection, recs)
			r.mirrorWrite(collection, "", "write", func() error {
				return r.mirror.Write(collection, recs)
			})
			r.log.Debug().Str("collection", collection).Int("count", len(recs)).Msg("synced from durable store")
			return nil
		}
		r.log.Warn().Err(err).Str("collection", collection).Msg("durable sync failed, loading mirror")
	}

	if r.mirror == nil {
		return fmt.Errorf("sync %s: no mirror to fall back to", collection)
	}
	recs, err := r.mirror.Read(collection)
	if err != nil {
		r.log.Error().Err(err).Str("collection", collection).Msg("mirror read failed")
		return fmt.Errorf("sync %s: %w", collection, err)
	}
	r.cache.Replace(collection, recs)
	r.log.Debug().Str("collection", collection).Int("count", len(recs)).Msg("synced from mirror")
	return nil
}

// SyncAll syncs every registered collection. It keeps going past failures
// and returns them joined.
func (r *Repository) SyncAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.registry.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Sync(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunPeriodicSync calls SyncAll every interval until ctx is cancelled.
// A tick never interrupts a sync that is still running.
func (r *Repository) RunPeriodicSync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.SyncAll(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("periodic sync incomplete")
			}
		}
	}
}
