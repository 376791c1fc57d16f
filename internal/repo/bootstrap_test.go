package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passionistravel/travelstore/internal/cache"
	"github.com/passionistravel/travelstore/internal/mirror"
	"github.com/passionistravel/travelstore/internal/schema"
	"github.com/passionistravel/travelstore/internal/store"
)

func memOpener(s store.Storer) Opener {
	return func(context.Context) (store.Storer, error) { return s, nil }
}

func newMemMirror(t *testing.T) (*mirror.Mirror, hackpadfs.FS) {
	t.Helper()
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	m, err := mirror.New(fsys)
	require.NoError(t, err)
	return m, fsys
}

func TestInitializeSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	durable := store.NewMemStore(schema.Default)
	m, fsys := newMemMirror(t)

	fresh := New(durable, m, nil)
	assert.Empty(t, fresh.GetSettings(ctx), "never-seeded store has no settings")

	in := NewInitializer(memOpener(durable), m, nil, InitOptions{})
	assert.Equal(t, StateUnstarted, in.State())

	r, err := in.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, in.State())
	assert.Equal(t, ModeDurable, r.Mode())

	settings := r.GetSettings(ctx)
	prefs, ok := settings["preferences"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "TRY", prefs["defaultCurrency"])
	assert.Equal(t, "DD.MM.YYYY", prefs["dateFormat"])

	data, err := hackpadfs.ReadFile(fsys, "companyInfo.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "PassionisTravel")
	_, err = hackpadfs.ReadFile(fsys, "preferences.json")
	require.NoError(t, err)
}

func TestInitializeKeepsExistingSettings(t *testing.T) {
	ctx := context.Background()
	durable := store.NewMemStore(schema.Default)
	require.NoError(t, durable.Put(ctx, schema.Settings, schema.Record{"id": schema.SettingsKey, "theme": "dark"}))
	m, _ := newMemMirror(t)

	r, err := InitializeDB(ctx, memOpener(durable), m, nil, InitOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.Record{"id": schema.SettingsKey, "theme": "dark"}, r.GetSettings(ctx))
}

func TestInitializeSyncsEveryCollection(t *testing.T) {
	ctx := context.Background()
	durable := store.NewMemStore(schema.Default)
	require.NoError(t, durable.Put(ctx, schema.Tours, schema.Record{"id": "t1"}))
	require.NoError(t, durable.Put(ctx, schema.Providers, schema.Record{"id": "p1"}))
	m, _ := newMemMirror(t)
	c := cache.New()

	_, err := InitializeDB(ctx, memOpener(durable), m, c, InitOptions{})
	require.NoError(t, err)

	assert.Len(t, c.Snapshot(schema.Tours), 1)
	assert.Len(t, c.Snapshot(schema.Providers), 1)
	mirrored, err := m.Read(schema.Tours)
	require.NoError(t, err)
	assert.Len(t, mirrored, 1)
}

func TestInitializeDegradesWhenStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemMirror(t)
	require.NoError(t, m.Write(schema.Tours, []schema.Record{{"id": "t1", "totalPrice": 5000.0}}))
	c := cache.New()

	open := func(context.Context) (store.Storer, error) {
		return nil, fmt.Errorf("open: %w", store.ErrStoreUnavailable)
	}
	in := NewInitializer(open, m, c, InitOptions{})
	r, err := in.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateDegraded, in.State())
	assert.Equal(t, ModeDegraded, r.Mode())

	all, err := r.GetAll(ctx, schema.Tours)
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"id": "t1", "totalPrice": 5000.0}}, all)

	_, err = r.Add(ctx, schema.Tours, schema.Record{"id": "t2"})
	require.NoError(t, err, "degraded facade still accepts writes")
	mirrored, err := m.Read(schema.Tours)
	require.NoError(t, err)
	assert.Len(t, mirrored, 2)
}

func TestInitializeRestoresFromMirror(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemMirror(t)
	require.NoError(t, m.Write(schema.Tours, []schema.Record{{"id": "t1"}, {"id": "t2"}}))
	require.NoError(t, m.Write(schema.Providers, []schema.Record{{"id": "mirror-only"}}))

	durable := store.NewMemStore(schema.Default)
	require.NoError(t, durable.Put(ctx, schema.Providers, schema.Record{"id": "durable"}))

	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.WarnLevel)
	in := NewInitializer(memOpener(durable), m, nil, InitOptions{RestoreFromMirror: true, Logger: &logger})
	r, err := in.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, in.State())
	assert.Contains(t, logs.String(), `"collection":"tours","count":2,"message":"empty collection restored from mirror"`)

	tours, err := r.GetTours(ctx)
	require.NoError(t, err)
	assert.Len(t, tours, 2, "empty durable collection refilled from the mirror")

	providers, err := r.GetProviders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"id": "durable"}}, providers, "non-empty collections are left alone")

	mirrored, err := m.Read(schema.Providers)
	require.NoError(t, err)
	assert.Equal(t, providers, mirrored, "sync then overwrites the mirror")
}

func TestInitializeWithoutRestoreTrustsDurable(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemMirror(t)
	require.NoError(t, m.Write(schema.Tours, []schema.Record{{"id": "t1"}}))

	r, err := InitializeDB(ctx, memOpener(store.NewMemStore(schema.Default)), m, nil, InitOptions{})
	require.NoError(t, err)

	tours, err := r.GetTours(ctx)
	require.NoError(t, err)
	assert.Empty(t, tours)
}

// failingSettingsStore rejects writes to the settings collection.
type failingSettingsStore struct {
	store.Storer
}

func (s failingSettingsStore) Put(ctx context.Context, collection string, rec schema.Record) error {
	if collection == schema.Settings {
		return errors.New("disk full")
	}
	return s.Storer.Put(ctx, collection, rec)
}

func TestInitializeSeedFailureDegrades(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemMirror(t)
	durable := failingSettingsStore{store.NewMemStore(schema.Default)}

	in := NewInitializer(memOpener(durable), m, nil, InitOptions{})
	r, err := in.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, in.State())
	assert.Equal(t, ModeDurable, r.Mode(), "the durable store stays attached")
}

func TestInitializeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, _ := newMemMirror(t)

	_, err := InitializeDB(ctx, memOpener(store.NewMemStore(schema.Default)), m, nil, InitOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInitializeOnSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "travel.db")
	logger := zerolog.Nop()
	open := func(ctx context.Context) (store.Storer, error) {
		return store.Open(ctx, store.Options{DSN: dsn, Logger: &logger})
	}
	m, _ := newMemMirror(t)

	r, err := InitializeDB(ctx, open, m, nil, InitOptions{RestoreFromMirror: true, Logger: &logger})
	require.NoError(t, err)
	_, err = r.Add(ctx, schema.Tours, tour("t1", 5000))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = InitializeDB(ctx, open, m, nil, InitOptions{})
	require.NoError(t, err)
	defer r.Close()

	got, err := r.GetByID(ctx, schema.Tours, "t1")
	require.NoError(t, err)
	assert.Equal(t, tour("t1", 5000), got)
	assert.Equal(t, "TRY", r.GetSettings(ctx)["preferences"].(map[string]any)["defaultCurrency"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "opening_store", StateOpeningStore.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "unknown", State(99).String())
}
