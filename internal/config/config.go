// Package config loads travelstore settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/passionistravel/travelstore/internal/store"
)

// Config is the top-level configuration document.
type Config struct {
	Database  Database  `yaml:"database"`
	Mirror    Mirror    `yaml:"mirror"`
	Log       Log       `yaml:"log"`
	Schema    Schema    `yaml:"schema"`
	Sync      Sync      `yaml:"sync"`
	Bootstrap Bootstrap `yaml:"bootstrap"`
}

type Database struct {
	// DSN is a SQLite file path or ":memory:".
	DSN string `yaml:"dsn"`
}

type Mirror struct {
	// Dir is the mirror directory on the host filesystem (native) or the
	// IndexedDB database name (browser).
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

type Log struct {
	Level string `yaml:"level"`
	// Path appends logs to a file instead of stderr.
	Path string `yaml:"path"`
}

type Schema struct {
	DriftPolicy store.DriftPolicy `yaml:"drift_policy"`
}

type Sync struct {
	// Interval between background re-syncs. Zero disables the loop.
	Interval time.Duration `yaml:"interval"`
}

type Bootstrap struct {
	RestoreFromMirror bool `yaml:"restore_from_mirror"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:  Database{DSN: "travelstore.db"},
		Mirror:    Mirror{Dir: "mirror", Prefix: "passionisTravel_"},
		Log:       Log{Level: "info"},
		Schema:    Schema{DriftPolicy: store.DriftRepair},
		Sync:      Sync{Interval: 0},
		Bootstrap: Bootstrap{RestoreFromMirror: true},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks field values that YAML decoding cannot.
func (c Config) Validate() error {
	switch c.Schema.DriftPolicy {
	case store.DriftRepair, store.DriftReset:
	default:
		return fmt.Errorf("invalid drift_policy %q: must be %q or %q",
			c.Schema.DriftPolicy, store.DriftRepair, store.DriftReset)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("invalid sync.interval %s", c.Sync.Interval)
	}
	return nil
}
