package backup

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passionistravel/travelstore/internal/mirror"
	"github.com/passionistravel/travelstore/internal/repo"
	"github.com/passionistravel/travelstore/internal/schema"
	"github.com/passionistravel/travelstore/internal/store"
)

func newRepo(t *testing.T) *repo.Repository {
	t.Helper()
	m, err := mirror.NewMem()
	require.NoError(t, err)
	r := repo.New(store.NewMemStore(schema.Default), m, nil)
	t.Cleanup(func() { r.Close() })
	return r
}

func seed(t *testing.T, r *repo.Repository) {
	t.Helper()
	ctx := context.Background()
	_, err := r.Add(ctx, schema.Tours, schema.Record{"id": "t1", "tourName": "Cappadocia", "totalPrice": 5000.0, "currency": "TRY"})
	require.NoError(t, err)
	_, err = r.Add(ctx, schema.Financials, schema.Record{"id": "f1", "type": "income", "amount": 5000.0, "date": "2026-05-01"})
	require.NoError(t, err)
	_, err = r.Add(ctx, schema.Providers, schema.Record{"id": "p1", "name": "Goreme Balloons"})
	require.NoError(t, err)

	rec, err := repo.DefaultSettings().Record()
	require.NoError(t, err)
	require.NoError(t, r.SaveSettings(ctx, rec))
}

func fixClock(t *testing.T) {
	t.Helper()
	now = func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { now = time.Now })
}

func TestExportGolden(t *testing.T) {
	fixClock(t)
	r := newRepo(t)
	seed(t, r)

	doc, err := Export(context.Background(), r)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export", buf.Bytes())
}

func TestExportEmptyStore(t *testing.T) {
	fixClock(t)
	doc, err := Export(context.Background(), newRepo(t))
	require.NoError(t, err)

	data, err := Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"financialData": [],
		"toursData": [],
		"companyInfo": {},
		"preferences": {},
		"exportDate": "2026-10-19T09:30:00Z"
	}`, string(data))
}

func TestRoundTripIntoAnotherStore(t *testing.T) {
	ctx := context.Background()
	src := newRepo(t)
	seed(t, src)
	doc, err := Export(ctx, src)
	require.NoError(t, err)
	data, err := Marshal(doc)
	require.NoError(t, err)

	dst := newRepo(t)
	_, err = dst.Add(ctx, schema.Tours, schema.Record{"id": "stale"})
	require.NoError(t, err)
	require.NoError(t, dst.SaveSettings(ctx, schema.Record{"theme": "dark"}))

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, Import(ctx, dst, parsed))

	tours, err := dst.GetTours(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc.ToursData, tours, "existing tours are replaced")

	fin, err := dst.GetFinancials(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc.FinancialData, fin)

	providers, err := dst.GetProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, providers, "providers are not part of a backup")

	settings := dst.GetSettings(ctx)
	assert.Equal(t, "dark", settings["theme"], "settings are merged, not replaced")
	assert.Equal(t, "TRY", settings["preferences"].(map[string]any)["defaultCurrency"])
	assert.Equal(t, "PassionisTravel", settings["companyInfo"].(map[string]any)["name"])
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"not an object", `[]`},
		{"missing tours", `{"financialData": []}`},
		{"missing financials", `{"toursData": []}`},
		{"tours not an array", `{"financialData": [], "toursData": {}}`},
		{"null financials", `{"financialData": null, "toursData": []}`},
		{"records not objects", `{"financialData": [1, 2], "toursData": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidBackupFormat)
		})
	}
}

func TestParseMinimalDocument(t *testing.T) {
	doc, err := Parse([]byte(`{"financialData": [], "toursData": [{"id": "t1"}]}`))
	require.NoError(t, err)
	assert.Len(t, doc.ToursData, 1)
	assert.Nil(t, doc.CompanyInfo)
}

func TestImportRejectedDocumentTouchesNothing(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	seed(t, r)

	for name, doc := range map[string]Document{
		"missing key":   {ToursData: []schema.Record{{"id": "t9"}, {"tourName": "no id"}}},
		"duplicate key": {FinancialData: []schema.Record{{"id": "f9"}, {"id": "f9"}}},
	} {
		t.Run(name, func(t *testing.T) {
			err := Import(ctx, r, doc)
			assert.ErrorIs(t, err, ErrInvalidBackupFormat)

			tours, err := r.GetTours(ctx)
			require.NoError(t, err)
			require.Len(t, tours, 1)
			assert.Equal(t, "t1", tours[0]["id"])
			fin, err := r.GetFinancials(ctx)
			require.NoError(t, err)
			assert.Len(t, fin, 1)
		})
	}
}

func TestFileName(t *testing.T) {
	at := time.Date(2026, 10, 19, 23, 0, 0, 0, time.FixedZone("TRT", 3*3600))
	assert.Equal(t, "passionistour_backup_2026-10-19.json", FileName(at))
}
