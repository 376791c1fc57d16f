// Package store provides the durable record store for travelstore.
// SQLiteStore is the production implementation; MemStore backs tests.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/passionistravel/travelstore/internal/schema"
)

// Errors returned by Storer implementations.
var (
	// ErrStoreUnavailable is returned when the storage engine cannot be opened.
	ErrStoreUnavailable = errors.New("durable store unavailable")

	// ErrDuplicateKey is returned by Add when the primary key already exists.
	ErrDuplicateKey = errors.New("duplicate primary key")

	// ErrTransactionFailure is returned when a transaction fails to complete.
	ErrTransactionFailure = errors.New("transaction failed")

	// ErrUnknownCollection is returned for a collection not in the registry.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrMissingKey is returned when a record has no usable primary key.
	ErrMissingKey = errors.New("record has no primary key")

	// ErrUnknownIndex is returned by FindBy for a field that is not a
	// declared secondary index.
	ErrUnknownIndex = errors.New("unknown secondary index")
)

// DriftPolicy selects how Open reacts to declared collections that are
// missing from the physical database.
type DriftPolicy string

const (
	// DriftRepair creates only the missing collections.
	DriftRepair DriftPolicy = "repair"
	// DriftReset drops every collection and recreates the database from
	// scratch, discarding all durable data.
	DriftReset DriftPolicy = "reset"
)

// Storer defines the per-collection durable operations.
// Every call runs in its own transaction scoped to one collection; a nil
// error means the transaction committed.
type Storer interface {
	GetAll(ctx context.Context, collection string) ([]schema.Record, error)
	// GetByID returns nil, nil when the record does not exist.
	GetByID(ctx context.Context, collection, id string) (schema.Record, error)
	// FindBy returns records whose secondary-index field equals value.
	// A nil value matches records where the field is null or absent.
	FindBy(ctx context.Context, collection, field string, value any) ([]schema.Record, error)
	Count(ctx context.Context, collection string) (int, error)

	// Put inserts or fully replaces a record.
	Put(ctx context.Context, collection string, rec schema.Record) error
	// Add inserts a record and fails with ErrDuplicateKey if it exists.
	Add(ctx context.Context, collection string, rec schema.Record) (string, error)
	Remove(ctx context.Context, collection, id string) error
	Clear(ctx context.Context, collection string) error

	Close() error
}

// resolve looks up a collection and returns ErrUnknownCollection on a miss.
func resolve(reg schema.Registry, name string) (schema.Collection, error) {
	c, ok := reg.Lookup(name)
	if !ok {
		return schema.Collection{}, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}

// resolveIndex checks that field is a secondary index of c.
func resolveIndex(c schema.Collection, field string) error {
	if !c.HasIndex(field) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownIndex, c.Name, field)
	}
	return nil
}

// recordKey extracts the primary key of rec for collection c.
func recordKey(c schema.Collection, rec schema.Record) (string, error) {
	key, ok := rec.Key(c.PrimaryKey)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrMissingKey, c.Name, c.PrimaryKey)
	}
	return key, nil
}
