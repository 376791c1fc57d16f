package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/passionistravel/travelstore/internal/schema"
)

// CompanyInfo is the agency's letterhead data.
type CompanyInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	TaxID   string `json:"taxId"`
	Website string `json:"website"`
}

// Preferences are the user-facing application preferences.
type Preferences struct {
	DarkMode          bool   `json:"darkMode"`
	Notifications     bool   `json:"notifications"`
	AutoBackup        bool   `json:"autoBackup"`
	Language          string `json:"language"`
	DefaultCurrency   string `json:"defaultCurrency"`
	DateFormat        string `json:"dateFormat"`
	AutoCalculateTax  bool   `json:"autoCalculateTax"`
	TaxRate           string `json:"taxRate"`
	ShowPricesWithTax bool   `json:"showPricesWithTax"`
	RoundPrices       bool   `json:"roundPrices"`
}

type UserSettings struct {
	UserName string `json:"userName"`
	UserRole string `json:"userRole"`
}

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// Settings is the typed view of the settings singleton.
type Settings struct {
	ID           string       `json:"id"`
	CompanyInfo  CompanyInfo  `json:"companyInfo"`
	Preferences  Preferences  `json:"preferences"`
	UserSettings UserSettings `json:"userSettings"`
	Users        []User       `json:"users"`
}

// DefaultSettings returns the settings seeded into a fresh store.
func DefaultSettings() Settings {
	return Settings{
		ID: schema.SettingsKey,
		CompanyInfo: CompanyInfo{
			Name:    "PassionisTravel",
			Address: "Örnek Mahallesi, Örnek Caddesi No:123, İstanbul",
			Phone:   "+90 212 123 4567",
			Email:   "info@passionistour.com",
			TaxID:   "1234567890",
			Website: "www.passionistour.com",
		},
		Preferences: Preferences{
			DarkMode:          false,
			Notifications:     true,
			AutoBackup:        true,
			Language:          "tr",
			DefaultCurrency:   "TRY",
			DateFormat:        "DD.MM.YYYY",
			AutoCalculateTax:  true,
			TaxRate:           "18",
			ShowPricesWithTax: true,
			RoundPrices:       true,
		},
		UserSettings: UserSettings{UserName: "Admin", UserRole: "admin"},
		Users: []User{
			{ID: "admin", Name: "Admin Kullanıcı", Role: "admin", Active: true},
		},
	}
}

// Record converts s to the generic record form stored in the settings
// collection.
func (s Settings) Record() (schema.Record, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return schema.DecodeRecord(data)
}

// GetSettings returns the settings record, or an empty record when none has
// been saved.
func (r *Repository) GetSettings(ctx context.Context) schema.Record {
	rec, err := r.GetByID(ctx, schema.Settings, schema.SettingsKey)
	if err != nil {
		r.log.Error().Err(err).Msg("read settings failed")
		return schema.Record{}
	}
	if rec == nil {
		return schema.Record{}
	}
	return rec
}

// SaveSettings stores rec as the settings singleton. Its id is always
// replaced by schema.SettingsKey; rec itself is not modified.
func (r *Repository) SaveSettings(ctx context.Context, rec schema.Record) error {
	out := make(schema.Record, len(rec)+1)
	maps.Copy(out, rec)
	out["id"] = schema.SettingsKey
	return r.Update(ctx, schema.Settings, out)
}

// LoadSettings decodes the settings singleton over DefaultSettings, so
// fields that were never saved keep their defaults. found is false when no
// settings record exists.
func (r *Repository) LoadSettings(ctx context.Context) (s Settings, found bool, err error) {
	s = DefaultSettings()
	rec := r.GetSettings(ctx)
	if len(rec) == 0 {
		return s, false, nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return s, true, fmt.Errorf("encode settings: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), true, fmt.Errorf("decode settings: %w", err)
	}
	s.ID = schema.SettingsKey
	return s, true, nil
}

// StoreSettings saves the typed settings. Fields of the stored record that
// Settings does not model are kept.
func (r *Repository) StoreSettings(ctx context.Context, s Settings) error {
	rec, err := s.Record()
	if err != nil {
		return err
	}
	merged := r.GetSettings(ctx)
	maps.Copy(merged, rec)
	return r.SaveSettings(ctx, merged)
}
