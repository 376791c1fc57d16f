// Package mirror keeps a flat-file JSON shadow of every collection on a
// hackpadfs filesystem: memory in tests, the host filesystem natively and
// IndexedDB in the browser.
//
// Each collection is one file holding a JSON array, except the settings
// singleton which is stored as a single object. Two key layouts exist:
// the current "<prefix><collection>" and the legacy "<collection>Data"
// ("settings" for the singleton). Reads and writes use the current layout;
// deletes clean both.
package mirror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	osfs "github.com/hack-pad/hackpadfs/os"

	"github.com/passionistravel/travelstore/internal/schema"
)

// DefaultPrefix is the key prefix of the current layout.
const DefaultPrefix = "passionisTravel_"

const filePerm = 0644

// ErrCorrupt is returned when a mirror file does not hold valid JSON.
var ErrCorrupt = errors.New("mirror file corrupted")

// Mirror is the flat-file shadow store. It is safe for concurrent use;
// read-modify-write updates are serialised.
type Mirror struct {
	mu     sync.Mutex
	fs     hackpadfs.FS
	dir    string
	prefix string
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(m *Mirror) { m.prefix = prefix }
}

// WithDir places mirror files under dir (a hackpadfs path).
func WithDir(dir string) Option {
	return func(m *Mirror) { m.dir = dir }
}

// New creates a mirror on fsys.
func New(fsys hackpadfs.FS, opts ...Option) (*Mirror, error) {
	m := &Mirror{fs: fsys, dir: ".", prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(m)
	}
	if m.dir != "." && m.dir != "" {
		if err := hackpadfs.MkdirAll(m.fs, m.dir, 0755); err != nil {
			return nil, fmt.Errorf("create mirror dir %s: %w", m.dir, err)
		}
	}
	return m, nil
}

// NewMem creates a mirror backed by an in-memory filesystem.
func NewMem(opts ...Option) (*Mirror, error) {
	fsys, err := mem.NewFS()
	if err != nil {
		return nil, err
	}
	return New(fsys, opts...)
}

// OpenDir creates a mirror in a host directory.
func OpenDir(dir string, opts ...Option) (*Mirror, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	// hackpadfs paths are slash-separated and relative to the root.
	rel := strings.TrimPrefix(filepath.ToSlash(abs), "/")
	return New(osfs.NewFS(), append(opts, WithDir(rel))...)
}

// CurrentKey is the key of a collection in the current layout.
func (m *Mirror) CurrentKey(collection string) string {
	return m.prefix + collection
}

// LegacyKey is the key of a collection in the legacy layout.
func LegacyKey(collection string) string {
	if collection == schema.Settings {
		return schema.Settings
	}
	return collection + "Data"
}

func (m *Mirror) file(key string) string {
	return path.Join(m.dir, key+".json")
}

// =============================================================================
// Collection access
// =============================================================================

// Read returns the mirrored records of a collection. A collection that was
// never mirrored reads as empty.
func (m *Mirror) Read(collection string) ([]schema.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs, _, err := m.readKey(m.CurrentKey(collection))
	return recs, err
}

// Write overwrites the mirrored records of a collection.
func (m *Mirror) Write(collection string, recs []schema.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeKey(m.CurrentKey(collection), collection, recs)
}

// Append adds rec to the end of the mirrored collection.
func (m *Mirror) Append(collection string, rec schema.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.CurrentKey(collection)
	recs, _, err := m.readKey(key)
	if err != nil {
		return err
	}
	if collection == schema.Settings {
		recs = recs[:0]
	}
	return m.writeKey(key, collection, append(recs, rec))
}

// Upsert replaces the mirrored record whose pk matches rec, or appends it.
func (m *Mirror) Upsert(collection, pk string, rec schema.Record) error {
	id, ok := rec.Key(pk)
	if !ok {
		return fmt.Errorf("mirror upsert %s: record has no %q", collection, pk)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.CurrentKey(collection)
	recs, _, err := m.readKey(key)
	if err != nil {
		return err
	}
	if collection == schema.Settings {
		return m.writeKey(key, collection, []schema.Record{rec})
	}

	replaced := false
	for i, r := range recs {
		if k, ok := r.Key(pk); ok && k == id {
			recs[i] = rec
			replaced = true
		}
	}
	if !replaced {
		recs = append(recs, rec)
	}
	return m.writeKey(key, collection, recs)
}

// Remove deletes the record with key id from both the current and the
// legacy layout. Files that do not exist are skipped.
func (m *Mirror) Remove(collection, pk, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, key := range []string{m.CurrentKey(collection), LegacyKey(collection)} {
		recs, found, err := m.readKey(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !found {
			continue
		}
		kept := recs[:0]
		for _, r := range recs {
			if k, ok := r.Key(pk); ok && k == id {
				continue
			}
			kept = append(kept, r)
		}
		if err := m.writeKey(key, collection, kept); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear removes the mirrored collection in the current layout.
func (m *Mirror) Clear(collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := hackpadfs.Remove(m.fs, m.file(m.CurrentKey(collection)))
	if err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
		return fmt.Errorf("clear mirror %s: %w", collection, err)
	}
	return nil
}

// =============================================================================
// Keyed values
// =============================================================================

// PutValue stores an arbitrary JSON value under key.
func (m *Mirror) PutValue(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode mirror value %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := hackpadfs.WriteFullFile(m.fs, m.file(key), data, filePerm); err != nil {
		return fmt.Errorf("write mirror value %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// readKey loads the records stored under key. found is false when the
// file does not exist. Both array and single-object files are accepted.
func (m *Mirror) readKey(key string) (recs []schema.Record, found bool, err error) {
	data, err := hackpadfs.ReadFile(m.fs, m.file(key))
	if errors.Is(err, hackpadfs.ErrNotExist) {
		return []schema.Record{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read mirror %s: %w", key, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []schema.Record{}, true, nil
	}
	if data[0] == '{' {
		rec, err := schema.DecodeRecord(data)
		if err != nil {
			return nil, true, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
		if len(rec) == 0 {
			return []schema.Record{}, true, nil
		}
		return []schema.Record{rec}, true, nil
	}

	recs = []schema.Record{}
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, true, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return recs, true, nil
}

// writeKey stores recs under key; the settings singleton is written as a
// single object.
func (m *Mirror) writeKey(key, collection string, recs []schema.Record) error {
	var v any = recs
	if recs == nil {
		v = []schema.Record{}
	}
	if collection == schema.Settings {
		v = schema.Record{}
		if len(recs) > 0 {
			v = recs[len(recs)-1]
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode mirror %s: %w", key, err)
	}
	if err := hackpadfs.WriteFullFile(m.fs, m.file(key), data, filePerm); err != nil {
		return fmt.Errorf("write mirror %s: %w", key, err)
	}
	return nil
}
