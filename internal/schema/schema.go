// Package schema declares the record collections of the travel-agency store.
// It is pure data: the durable store creates one physical table per entry.
package schema

// Version is the physical schema version. Bumping it triggers an additive
// upgrade the next time the durable store is opened.
const Version = 2

// SettingsKey is the fixed primary key of the settings singleton.
const SettingsKey = "app-settings"

// Collection names used by the application.
const (
	Tours      = "tours"
	Financials = "financials"
	Customers  = "customers"
	Settings   = "settings"
	Expenses   = "expenses"
	Providers  = "providers"
	Activities = "activities"
)

// Collection describes a named set of records sharing a primary key field
// and zero or more non-unique secondary lookup fields.
type Collection struct {
	Name       string
	PrimaryKey string
	Indexes    []string
}

// HasIndex reports whether field is a declared secondary index.
func (c Collection) HasIndex(field string) bool {
	for _, f := range c.Indexes {
		if f == field {
			return true
		}
	}
	return false
}

// Registry is an ordered set of collections. Order is the declaration
// order and is used for startup sync and table creation.
type Registry []Collection

// Default is the registry used by the application.
var Default = Registry{
	{Name: Tours, PrimaryKey: "id", Indexes: []string{"customerName", "tourDate"}},
	{Name: Financials, PrimaryKey: "id", Indexes: []string{"date", "type"}},
	{Name: Customers, PrimaryKey: "id", Indexes: []string{"name", "phone"}},
	{Name: Settings, PrimaryKey: "id"},
	{Name: Expenses, PrimaryKey: "id", Indexes: []string{"type", "name"}},
	{Name: Providers, PrimaryKey: "id", Indexes: []string{"name"}},
	{Name: Activities, PrimaryKey: "id", Indexes: []string{"title", "date"}},
}

// Lookup returns the collection with the given name.
func (r Registry) Lookup(name string) (Collection, bool) {
	for _, c := range r {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Names returns collection names in declaration order.
func (r Registry) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}
