package repo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passionistravel/travelstore/internal/schema"
)

func TestGetSettingsEmptyWhenNeverSaved(t *testing.T) {
	f := newFixture(t)
	got := f.repo.GetSettings(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSettingsSingleton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := schema.Record{"id": "whatever", "theme": "light"}
	require.NoError(t, f.repo.SaveSettings(ctx, first))
	require.NoError(t, f.repo.SaveSettings(ctx, schema.Record{"id": "other", "theme": "dark"}))

	assert.Equal(t, "whatever", first["id"], "caller's record is left alone")

	all, err := f.durable.GetAll(ctx, schema.Settings)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, schema.SettingsKey, all[0]["id"])

	got := f.repo.GetSettings(ctx)
	assert.Equal(t, schema.Record{"id": schema.SettingsKey, "theme": "dark"}, got)

	mirrored, err := f.mirror.Read(schema.Settings)
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{got}, mirrored)
}

func TestLoadSettingsFillsDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, found, err := f.repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultSettings(), s)

	require.NoError(t, f.repo.SaveSettings(ctx, schema.Record{
		"preferences":     map[string]any{"defaultCurrency": "EUR"},
		"invoiceTemplate": "modern",
	}))

	s, found, err = f.repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "EUR", s.Preferences.DefaultCurrency)
	assert.Equal(t, "PassionisTravel", s.CompanyInfo.Name, "unsaved sections keep defaults")

	s.CompanyInfo.Name = "Kapadokya Turizm"
	require.NoError(t, f.repo.StoreSettings(ctx, s))

	got := f.repo.GetSettings(ctx)
	assert.Equal(t, "modern", got["invoiceTemplate"], "unmodelled fields survive a typed save")
	assert.Equal(t, "Kapadokya Turizm", got["companyInfo"].(map[string]any)["name"])
}

func TestDefaultSettingsGolden(t *testing.T) {
	data, err := json.MarshalIndent(DefaultSettings(), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "default_settings", append(data, '\n'))
}
