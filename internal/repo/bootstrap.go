package repo

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/passionistravel/travelstore/internal/cache"
	"github.com/passionistravel/travelstore/internal/schema"
	"github.com/passionistravel/travelstore/internal/store"
)

// State is a step of the bootstrap sequence.
type State int

const (
	StateUnstarted State = iota
	StateOpeningStore
	StateRestoring
	StateSyncing
	StateSeedingDefaults
	StateReady
	// StateDegraded is terminal: the facade runs without a durable store,
	// or defaults could not be seeded.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateOpeningStore:
		return "opening_store"
	case StateRestoring:
		return "restoring"
	case StateSyncing:
		return "syncing"
	case StateSeedingDefaults:
		return "seeding_defaults"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Opener opens the durable store. Returning an error wrapping
// store.ErrStoreUnavailable sends bootstrap into degraded mode.
type Opener func(ctx context.Context) (store.Storer, error)

// InitOptions tune the bootstrap sequence.
type InitOptions struct {
	Registry schema.Registry
	// RestoreFromMirror refills empty durable collections from the mirror.
	RestoreFromMirror bool
	Logger            *zerolog.Logger
}

// Initializer brings a Repository up: open the durable store, restore it
// from the mirror if it came up empty, sync every collection and seed
// default settings.
type Initializer struct {
	mu     sync.Mutex
	state  State
	open   Opener
	mirror Mirror
	cache  *cache.Cache
	opts   InitOptions
	log    zerolog.Logger
}

// NewInitializer creates an Initializer in StateUnstarted.
func NewInitializer(open Opener, m Mirror, c *cache.Cache, opts InitOptions) *Initializer {
	if opts.Registry == nil {
		opts.Registry = schema.Default
	}
	if c == nil {
		c = cache.New()
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Initializer{open: open, mirror: m, cache: c, opts: opts, log: log}
}

// State returns the current bootstrap state.
func (in *Initializer) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

func (in *Initializer) enter(s State) {
	in.mu.Lock()
	in.state = s
	in.mu.Unlock()
	in.log.Info().Stringer("state", s).Msg("bootstrap")
}

// Run executes the bootstrap sequence. It always returns a usable
// Repository; failures along the way are logged and end in StateDegraded.
// The only error is a cancelled ctx.
func (in *Initializer) Run(ctx context.Context) (*Repository, error) {
	in.enter(StateOpeningStore)
	durable, err := in.open(ctx)
	if err != nil {
		ev := in.log.Error().Err(err)
		if isUnavailable(err) {
			ev = in.log.Warn().Err(err)
		}
		ev.Msg("durable store could not be opened, continuing on mirror")
		return in.degrade(ctx)
	}

	r := New(durable, in.mirror, in.cache, WithRegistry(in.opts.Registry), WithLogger(in.log))

	if in.opts.RestoreFromMirror && in.mirror != nil {
		in.enter(StateRestoring)
		in.restore(ctx, durable)
	}

	in.enter(StateSyncing)
	if err := r.SyncAll(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		in.log.Warn().Err(err).Msg("some collections failed to sync")
	}

	in.enter(StateSeedingDefaults)
	if err := in.seed(ctx, r); err != nil {
		in.log.Error().Err(err).Msg("seeding default settings failed")
		in.enter(StateDegraded)
		return r, nil
	}

	in.enter(StateReady)
	return r, nil
}

// degrade builds a facade without a durable store and fills its cache from
// the mirror.
func (in *Initializer) degrade(ctx context.Context) (*Repository, error) {
	r := New(nil, in.mirror, in.cache, WithRegistry(in.opts.Registry), WithLogger(in.log))
	for _, name := range in.opts.Registry.Names() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.Sync(ctx, name); err != nil {
			in.log.Error().Err(err).Str("collection", name).Msg("mirror load failed")
		}
	}
	in.enter(StateDegraded)
	return r, nil
}

// restore re-adds mirrored records to every durable collection that is
// empty while its mirror is not.
func (in *Initializer) restore(ctx context.Context, durable store.Storer) {
	for _, name := range in.opts.Registry.Names() {
		n, err := durable.Count(ctx, name)
		if err != nil {
			in.log.Warn().Err(err).Str("collection", name).Msg("count failed, skipping restore")
			continue
		}
		if n > 0 {
			continue
		}

		recs, err := in.mirror.Read(name)
		if err != nil {
			in.log.Warn().Err(err).Str("collection", name).Msg("mirror unreadable, skipping restore")
			continue
		}
		if len(recs) == 0 {
			continue
		}

		restored := 0
		for _, rec := range recs {
			if err := durable.Put(ctx, name, rec); err != nil {
				in.log.Warn().Err(err).Str("collection", name).Msg("restore record failed")
				continue
			}
			restored++
		}
		// Mirror removes are best-effort, so a restore can bring back
		// records deleted while the mirror was failing.
		in.log.Warn().Str("collection", name).Int("count", restored).Msg("empty collection restored from mirror")
	}
}

// seed persists DefaultSettings when no settings record carries an id, and
// mirrors its company info and preferences under their own keys.
func (in *Initializer) seed(ctx context.Context, r *Repository) error {
	if _, ok := r.GetSettings(ctx).Key("id"); ok {
		return nil
	}

	in.log.Info().Msg("creating default settings")
	defaults := DefaultSettings()
	rec, err := defaults.Record()
	if err != nil {
		return err
	}
	if err := r.SaveSettings(ctx, rec); err != nil {
		return err
	}

	if in.mirror != nil {
		if err := in.mirror.PutValue("preferences", defaults.Preferences); err != nil {
			in.log.Warn().Err(err).Msg("mirror preferences failed")
		}
		if err := in.mirror.PutValue("companyInfo", defaults.CompanyInfo); err != nil {
			in.log.Warn().Err(err).Msg("mirror company info failed")
		}
	}
	return nil
}

// InitializeDB runs a fresh Initializer and returns its Repository.
func InitializeDB(ctx context.Context, open Opener, m Mirror, c *cache.Cache, opts InitOptions) (*Repository, error) {
	return NewInitializer(open, m, c, opts).Run(ctx)
}
