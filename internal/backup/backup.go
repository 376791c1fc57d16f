// Package backup exports and imports the portable JSON backup document:
// tours, financial entries, company info and preferences.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/passionistravel/travelstore/internal/schema"
)

// ErrInvalidBackupFormat is returned for a document that lacks the
// financialData or toursData arrays or whose records are unusable.
var ErrInvalidBackupFormat = errors.New("invalid backup file")

// Document is the backup file layout.
type Document struct {
	FinancialData []schema.Record `json:"financialData"`
	ToursData     []schema.Record `json:"toursData"`
	CompanyInfo   map[string]any  `json:"companyInfo"`
	Preferences   map[string]any  `json:"preferences"`
	ExportDate    string          `json:"exportDate"`
}

// Repository is the part of the persistence facade a backup touches.
// *repo.Repository implements it.
type Repository interface {
	GetAll(ctx context.Context, collection string) ([]schema.Record, error)
	ReplaceAll(ctx context.Context, collection string, list []schema.Record) error
	GetSettings(ctx context.Context) schema.Record
	SaveSettings(ctx context.Context, rec schema.Record) error
	Registry() schema.Registry
}

// now is replaced in tests.
var now = time.Now

// FileName is the suggested file name for a backup taken at t.
func FileName(t time.Time) string {
	return "passionistour_backup_" + t.UTC().Format("2006-01-02") + ".json"
}

// Export collects a backup document from r.
func Export(ctx context.Context, r Repository) (Document, error) {
	financials, err := r.GetAll(ctx, schema.Financials)
	if err != nil {
		return Document{}, fmt.Errorf("export financials: %w", err)
	}
	tours, err := r.GetAll(ctx, schema.Tours)
	if err != nil {
		return Document{}, fmt.Errorf("export tours: %w", err)
	}

	settings := r.GetSettings(ctx)
	return Document{
		FinancialData: financials,
		ToursData:     tours,
		CompanyInfo:   section(settings, "companyInfo"),
		Preferences:   section(settings, "preferences"),
		ExportDate:    now().UTC().Format(time.RFC3339),
	}, nil
}

// Marshal renders doc with two-space indentation.
func Marshal(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Encode writes doc to w with two-space indentation and a trailing newline.
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Parse decodes and validates a backup document.
func Parse(data []byte) (Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidBackupFormat, err)
	}
	for _, field := range []string{"financialData", "toursData"} {
		v := bytes.TrimSpace(raw[field])
		if len(v) == 0 || v[0] != '[' {
			return Document{}, fmt.Errorf("%w: %s must be an array", ErrInvalidBackupFormat, field)
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidBackupFormat, err)
	}
	return doc, nil
}

// Import replaces tours and financial entries with those of doc and merges
// its company info and preferences into the settings record. Every record
// is checked for a primary key first; a rejected document changes nothing.
func Import(ctx context.Context, r Repository, doc Document) error {
	sets := []struct {
		collection string
		recs       []schema.Record
	}{
		{schema.Financials, doc.FinancialData},
		{schema.Tours, doc.ToursData},
	}

	reg := r.Registry()
	for _, set := range sets {
		c, ok := reg.Lookup(set.collection)
		if !ok {
			return fmt.Errorf("import: collection %q is not registered", set.collection)
		}
		seen := make(map[string]bool, len(set.recs))
		for i, rec := range set.recs {
			key, ok := rec.Key(c.PrimaryKey)
			if !ok {
				return fmt.Errorf("%w: %s[%d] has no %s", ErrInvalidBackupFormat, set.collection, i, c.PrimaryKey)
			}
			if seen[key] {
				return fmt.Errorf("%w: %s[%d] repeats %s %q", ErrInvalidBackupFormat, set.collection, i, c.PrimaryKey, key)
			}
			seen[key] = true
		}
	}

	for _, set := range sets {
		if err := r.ReplaceAll(ctx, set.collection, set.recs); err != nil {
			return fmt.Errorf("import %s: %w", set.collection, err)
		}
	}

	if doc.CompanyInfo == nil && doc.Preferences == nil {
		return nil
	}
	settings := r.GetSettings(ctx)
	if doc.CompanyInfo != nil {
		settings["companyInfo"] = doc.CompanyInfo
	}
	if doc.Preferences != nil {
		settings["preferences"] = doc.Preferences
	}
	if err := r.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("import settings: %w", err)
	}
	return nil
}

// section returns settings[key] as an object, or an empty one.
func section(settings schema.Record, key string) map[string]any {
	if m, ok := settings[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
