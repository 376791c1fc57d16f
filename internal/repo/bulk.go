package repo

import (
	"context"
	"fmt"

	"github.com/passionistravel/travelstore/internal/schema"
)

// GetTours returns every tour.
func (r *Repository) GetTours(ctx context.Context) ([]schema.Record, error) {
	return r.GetAll(ctx, schema.Tours)
}

// GetFinancials returns every financial entry.
func (r *Repository) GetFinancials(ctx context.Context) ([]schema.Record, error) {
	return r.GetAll(ctx, schema.Financials)
}

// GetExpenseTypes returns the expense types, narrowed to one category when
// typ is not empty.
func (r *Repository) GetExpenseTypes(ctx context.Context, typ string) ([]schema.Record, error) {
	if typ == "" {
		return r.GetAll(ctx, schema.Expenses)
	}
	return r.FindBy(ctx, schema.Expenses, "type", typ)
}

// SaveExpenseTypes replaces every expense type with list.
func (r *Repository) SaveExpenseTypes(ctx context.Context, list []schema.Record) error {
	return r.ReplaceAll(ctx, schema.Expenses, list)
}

func (r *Repository) GetProviders(ctx context.Context) ([]schema.Record, error) {
	return r.GetAll(ctx, schema.Providers)
}

// SaveProviders replaces every provider with list.
func (r *Repository) SaveProviders(ctx context.Context, list []schema.Record) error {
	return r.ReplaceAll(ctx, schema.Providers, list)
}

func (r *Repository) GetActivities(ctx context.Context) ([]schema.Record, error) {
	return r.GetAll(ctx, schema.Activities)
}

// SaveActivities replaces every activity with list.
func (r *Repository) SaveActivities(ctx context.Context, list []schema.Record) error {
	return r.ReplaceAll(ctx, schema.Activities, list)
}

// ReplaceAll clears a collection and adds each element of list in order.
// It is not atomic: readers may observe the collection partially filled,
// and a failed Add leaves the elements before it in place.
func (r *Repository) ReplaceAll(ctx context.Context, collection string, list []schema.Record) error {
	if err := r.Clear(ctx, collection); err != nil {
		return err
	}
	for i, rec := range list {
		if _, err := r.Add(ctx, collection, rec); err != nil {
			return fmt.Errorf("save %s: element %d: %w", collection, i, err)
		}
	}
	r.log.Info().Str("collection", collection).Int("count", len(list)).Msg("collection replaced")
	return nil
}
