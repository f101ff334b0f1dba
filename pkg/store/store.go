// Package store defines the record store contract the mirror engine runs
// against. A store exposes tables of records and containers of content
// nodes; tables themselves live inside containers.
//
// Every method takes a context and returns errors that classify as
// transport failures (see pkg/errors). The engine never retries.
//
// Example usage:
//
//	page, err := st.Query(ctx, tableID, records.Equals(records.Title("name", "Alpha")), "")
//	if err != nil {
//	    return err
//	}
//	for _, rec := range page.Records {
//	    fmt.Println(rec.ID)
//	}
package store

import (
	"context"

	"github.com/agentstation/mirrorsync/pkg/records"
)

// Store is the set of operations the engine needs from a record store.
type Store interface {
	// Query returns one page of a table's records, optionally restricted
	// by an exact-match filter. An empty cursor requests the first page.
	Query(ctx context.Context, tableID string, filter *records.Filter, cursor string) (*records.QueryPage, error)

	// CreateRecord inserts a record and returns its id.
	CreateRecord(ctx context.Context, tableID string, fields records.Fields) (string, error)

	// UpdateRecord writes the given fields onto an existing record.
	UpdateRecord(ctx context.Context, recordID string, fields records.Fields) error

	// GetRecord reads a single record.
	GetRecord(ctx context.Context, recordID string) (*records.Record, error)

	// ListChildren returns one page of a container's direct children.
	ListChildren(ctx context.Context, containerID string, cursor string) (*records.ChildrenPage, error)

	// CreateTable creates a table inside a container and returns its id.
	CreateTable(ctx context.Context, containerID, title string, schema records.Schema) (string, error)

	// GetTableSchema reads a table's title and schema.
	GetTableSchema(ctx context.Context, tableID string) (*records.Table, error)

	// AppendContent appends nodes to the end of a container, in order.
	AppendContent(ctx context.Context, containerID string, nodes []records.Node) error
}

// SchemaUpdater is implemented by stores that can add properties to an
// existing table. Only explicit re-provisioning uses it.
type SchemaUpdater interface {
	UpdateTableSchema(ctx context.Context, tableID string, schema records.Schema) error
}
