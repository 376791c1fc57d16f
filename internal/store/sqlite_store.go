// Package store provides SQLite-backed persistence for travelstore.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/rs/zerolog"

	"github.com/passionistravel/travelstore/internal/schema"
)

// Options configures Open.
type Options struct {
	// DSN is ":memory:" or a database file path.
	DSN         string
	Registry    schema.Registry
	DriftPolicy DriftPolicy
	Logger      *zerolog.Logger
}

// SQLiteStore is the SQLite-backed durable store.
// Each collection is a table of (id, JSON document) rows with one
// expression index per declared secondary field.
type SQLiteStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	registry schema.Registry
	log      zerolog.Logger
}

// NewSQLiteStore creates an in-memory store for the default registry.
func NewSQLiteStore() (*SQLiteStore, error) {
	return Open(context.Background(), Options{DSN: ":memory:"})
}

// Open opens (creating if absent) the database at the current schema
// version, upgrading and repairing it as needed.
func Open(ctx context.Context, opts Options) (*SQLiteStore, error) {
	if opts.DSN == "" {
		opts.DSN = ":memory:"
	}
	if opts.Registry == nil {
		opts.Registry = schema.Default
	}
	if opts.DriftPolicy == "" {
		opts.DriftPolicy = DriftRepair
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "durable").Logger()
	}

	db, err := sql.Open("sqlite3", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, opts.DSN, err)
	}

	// A single connection keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, opts.DSN, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: configure %s: %v", ErrStoreUnavailable, opts.DSN, err)
	}

	s := &SQLiteStore{db: db, registry: opts.Registry, log: log}
	if err := s.prepare(ctx, opts.DriftPolicy); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("dsn", opts.DSN).Int("version", schema.Version).Msg("database opened")
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Schema lifecycle
// =============================================================================

// prepare runs the version upgrade and then checks for schema drift.
func (s *SQLiteStore) prepare(ctx context.Context, policy DriftPolicy) error {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: read schema version: %v", ErrStoreUnavailable, err)
	}
	if version < schema.Version {
		if err := s.upgrade(ctx, version, schema.Version); err != nil {
			return err
		}
	}

	missing, err := s.missingCollections(ctx)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	s.log.Warn().Strs("missing", missing).Str("policy", string(policy)).Msg("schema drift detected")
	if policy == DriftReset {
		return s.reset(ctx)
	}
	return s.upgrade(ctx, version, schema.Version)
}

// upgrade creates every declared collection that does not exist yet,
// together with its secondary indexes. It never drops or alters anything.
func (s *SQLiteStore) upgrade(ctx context.Context, oldVersion, newVersion int) error {
	s.log.Info().Int("from", oldVersion).Int("to", newVersion).Msg("upgrading schema")

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range s.registry {
			for _, stmt := range createStatements(c) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("create %s: %w", c.Name, err)
				}
			}
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", newVersion))
		return err
	})
}

// reset drops every table and recreates the declared collections.
func (s *SQLiteStore) reset(ctx context.Context) error {
	tables, err := s.PhysicalCollections(ctx)
	if err != nil {
		return err
	}
	s.log.Warn().Strs("dropped", tables).Msg("resetting database")

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, name := range tables {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
				return fmt.Errorf("drop %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.upgrade(ctx, 0, schema.Version)
}

// SchemaVersion returns the stored schema version (0 for a new database).
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// PhysicalCollections lists the tables present in the database.
func (s *SQLiteStore) PhysicalCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) missingCollections(ctx context.Context) ([]string, error) {
	present, err := s.PhysicalCollections(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(present))
	for _, name := range present {
		have[name] = true
	}

	var missing []string
	for _, c := range s.registry {
		if !have[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	return missing, nil
}

func createStatements(c schema.Collection) []string {
	table := quoteIdent(c.Name)
	stmts := []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL)", table)}
	for _, field := range c.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			quoteIdent("idx_"+c.Name+"_"+field), table, fieldExpr(field)))
	}
	return stmts
}

// =============================================================================
// Reads
// =============================================================================

// GetAll returns every record of a collection in key order.
func (s *SQLiteStore) GetAll(ctx context.Context, collection string) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := resolve(s.registry, collection)
	if err != nil {
		return nil, err
	}

	var out []schema.Record
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		out, err = queryRecords(ctx, tx, "SELECT data FROM "+quoteIdent(c.Name)+" ORDER BY id")
		return err
	})
	return out, err
}

// GetByID retrieves a record by primary key. Returns nil, nil when absent.
func (s *SQLiteStore) GetByID(ctx context.Context, collection, id string) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := resolve(s.registry, collection)
	if err != nil {
		return nil, err
	}

	var rec schema.Record
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var data string
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM "+quoteIdent(c.Name)+" WHERE id = ?", id).Scan(&data)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err = schema.DecodeRecord([]byte(data))
		return err
	})
	return rec, err
}

// FindBy returns records whose secondary-index field equals value. IS
// rather than = so a nil value matches null and absent fields.
func (s *SQLiteStore) FindBy(ctx context.Context, collection, field string, value any) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := resolve(s.registry, collection)
	if err != nil {
		return nil, err
	}
	if err := resolveIndex(c, field); err != nil {
		return nil, err
	}
	arg, err := sqlValue(value)
	if err != nil {
		return nil, fmt.Errorf("find %s.%s: %w", c.Name, field, err)
	}

	var out []schema.Record
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		out, err = queryRecords(ctx, tx,
			"SELECT data FROM "+quoteIdent(c.Name)+" WHERE "+fieldExpr(field)+" IS ? ORDER BY id", arg)
		return err
	})
	return out, err
}

// Count returns the number of records in a collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := resolve(s.registry, collection)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(c.Name)).Scan(&count)
	})
	return count, err
}

// =============================================================================
// Writes
// =============================================================================

// Put inserts or fully replaces a record.
func (s *SQLiteStore) Put(ctx context.Context, collection string, rec schema.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, key, data, err := s.encode(collection, rec)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+quoteIdent(c.Name)+` (id, data) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data
		`, key, data)
		return err
	})
}

// Add inserts a new record and fails with ErrDuplicateKey if the key exists.
func (s *SQLiteStore) Add(ctx context.Context, collection string, rec schema.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, key, data, err := s.encode(collection, rec)
	if err != nil {
		return "", err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO `+quoteIdent(c.Name)+` (id, data) VALUES (?, ?)
			ON CONFLICT(id) DO NOTHING
		`, key, data)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, c.Name, key)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes a record by key. Removing an absent key is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := resolve(s.registry, collection)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(c.Name)+" WHERE id = ?", id)
		return err
	})
}

// Clear deletes every record of a collection.
func (s *SQLiteStore) Clear(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := resolve(s.registry, collection)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(c.Name))
		return err
	})
}

// =============================================================================
// Helpers
// =============================================================================

// withTx runs fn in a transaction. The work counts as done only once
// Commit returns. A transaction that cannot begin means the engine is gone
// (ErrStoreUnavailable); statement and commit failures are reported as
// ErrTransactionFailure unless fn returned one of the typed store errors.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if isTyped(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransactionFailure, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailure, err)
	}
	return nil
}

func isTyped(err error) bool {
	return errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrUnknownCollection) ||
		errors.Is(err, ErrUnknownIndex)
}

func (s *SQLiteStore) encode(collection string, rec schema.Record) (schema.Collection, string, string, error) {
	c, err := resolve(s.registry, collection)
	if err != nil {
		return c, "", "", err
	}
	key, err := recordKey(c, rec)
	if err != nil {
		return c, "", "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return c, "", "", fmt.Errorf("encode %s/%s: %w", c.Name, key, err)
	}
	return c, key, string(data), nil
}

func queryRecords(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]schema.Record, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]schema.Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := schema.DecodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// fieldExpr is the indexed expression for a secondary field. Queries must
// use the identical text for SQLite to pick the expression index.
func fieldExpr(field string) string {
	return "json_extract(data, '$." + strings.ReplaceAll(field, "'", "''") + "')"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlValue maps a JSON scalar onto the value json_extract yields for it.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, float64, int, int64:
		return x, nil
	case bool:
		return boolToInt(x), nil
	default:
		return nil, fmt.Errorf("unsupported lookup value %T", v)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
