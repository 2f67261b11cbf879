// Package commerce is the thin typed layer between the console core and the
// concrete upstream endpoints: the commerce platform's paginated resource
// APIs and the MDM's bulk synchronization endpoints.
package commerce

import (
	"fmt"

	"github.com/storelink/catalog-console/internal/grid"
	"github.com/storelink/catalog-console/internal/httpclient"
	"github.com/storelink/catalog-console/internal/settings"
)

// Resource describes one tabular upstream endpoint the console exposes as a
// grid: its path, identity field, creation timestamp and the default column
// set merged over the inferred schema.
type Resource struct {
	// Kind is the grid identifier (products, orders, ...).
	Kind string

	// Path is the upstream resource path.
	Path string

	// PrimaryKey is the identifying field used for row identity.
	PrimaryKey string

	// CreatedField, when set, drives the default descending sort.
	CreatedField string

	// BaseColumns are the declared default columns for this grid.
	BaseColumns []grid.Column
}

// GridConfig builds the grid configuration for this resource.
func (r Resource) GridConfig() grid.Config {
	return grid.Config{
		GridID:       r.Kind,
		Path:         r.Path,
		BaseColumns:  r.BaseColumns,
		PrimaryKey:   r.PrimaryKey,
		CreatedField: r.CreatedField,
	}
}

// Resources is the catalog of grids the console serves.
var Resources = map[string]Resource{
	"products": {
		Kind:         "products",
		Path:         "/rest/V1/products",
		PrimaryKey:   "sku",
		CreatedField: "created_at",
		BaseColumns: []grid.Column{
			{Field: "sku", Header: "SKU", Type: grid.ColumnString, Visible: true},
			{Field: "name", Header: "Name", Type: grid.ColumnString, Visible: true},
			{Field: "price", Header: "Price", Type: grid.ColumnCurrency, Visible: true},
			{Field: "status", Header: "Status", Type: grid.ColumnStatus, Visible: true},
			{Field: "created_at", Header: "Created", Type: grid.ColumnDate, Visible: true},
		},
	},
	"orders": {
		Kind:         "orders",
		Path:         "/rest/V1/orders",
		PrimaryKey:   "entity_id",
		CreatedField: "created_at",
		BaseColumns: []grid.Column{
			{Field: "increment_id", Header: "Order", Type: grid.ColumnString, Visible: true},
			{Field: "status", Header: "Status", Type: grid.ColumnStatus, Visible: true},
			{Field: "grand_total", Header: "Total", Type: grid.ColumnCurrency, Visible: true},
			{Field: "created_at", Header: "Created", Type: grid.ColumnDate, Visible: true},
		},
	},
	"invoices": {
		Kind:         "invoices",
		Path:         "/rest/V1/invoices",
		PrimaryKey:   "increment_id",
		CreatedField: "created_at",
		BaseColumns: []grid.Column{
			{Field: "increment_id", Header: "Invoice", Type: grid.ColumnString, Visible: true},
			{Field: "order_id", Header: "Order", Type: grid.ColumnString, Visible: true},
			{Field: "grand_total", Header: "Total", Type: grid.ColumnCurrency, Visible: true},
			{Field: "created_at", Header: "Created", Type: grid.ColumnDate, Visible: true},
		},
	},
	"customers": {
		Kind:         "customers",
		Path:         "/rest/V1/customers/search",
		PrimaryKey:   "id",
		CreatedField: "created_at",
		BaseColumns: []grid.Column{
			{Field: "id", Header: "ID", Type: grid.ColumnNumber, Visible: true},
			{Field: "email", Header: "Email", Type: grid.ColumnString, Visible: true},
			{Field: "firstname", Header: "First Name", Type: grid.ColumnString, Visible: true},
			{Field: "lastname", Header: "Last Name", Type: grid.ColumnString, Visible: true},
			{Field: "created_at", Header: "Created", Type: grid.ColumnDate, Visible: true},
		},
	},
	"categories": {
		Kind:       "categories",
		Path:       "/rest/V1/categories/list",
		PrimaryKey: "id",
		BaseColumns: []grid.Column{
			{Field: "id", Header: "ID", Type: grid.ColumnNumber, Visible: true},
			{Field: "name", Header: "Name", Type: grid.ColumnString, Visible: true},
			{Field: "is_active", Header: "Active", Type: grid.ColumnBoolean, Visible: true},
		},
	},
}

// ResourceFor returns the resource for a grid kind.
func ResourceFor(kind string) (Resource, error) {
	r, ok := Resources[kind]
	if !ok {
		return Resource{}, fmt.Errorf("unknown grid kind %q", kind)
	}
	return r, nil
}

// NewGrid builds a grid controller for a kind, wiring the resource client
// and the settings store.
func NewGrid(kind string, client httpclient.Client, store settings.Store) (*grid.Grid, error) {
	r, err := ResourceFor(kind)
	if err != nil {
		return nil, err
	}
	return grid.New(client, store, r.GridConfig())
}
