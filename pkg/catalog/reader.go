package catalog

import "context"

// TableRef identifies a table in the crawled inventory.
type TableRef struct {
	DatabaseName string `json:"database_name"`
	SchemaName   string `json:"schema_name"`
	TableName    string `json:"table_name"`
}

// QualifiedName returns the database.schema.table identity.
func (t TableRef) QualifiedName() string {
	return t.DatabaseName + "." + t.SchemaName + "." + t.TableName
}

// Table is a crawled table with its last known row count estimate.
type Table struct {
	TableRef
	RowCount int64 `json:"row_count"`
}

// Column is a crawled column of one table.
type Column struct {
	ColumnName      string `json:"column_name"`
	DataType        string `json:"data_type"`
	OrdinalPosition int    `json:"ordinal_position"`
}

// ForeignKey is a crawled foreign key constraint, pointing at the table the
// constrained table references.
type ForeignKey struct {
	ConstraintName string   `json:"constraint_name"`
	Referenced     TableRef `json:"referenced"`
}

// Reader provides read-only access to the crawled metadata inventory.
// The inventory is populated by an external crawler and is eventually
// consistent; discovery quality depends entirely on its freshness.
type Reader interface {
	// ListTables returns all tables in the inventory.
	ListTables(ctx context.Context) ([]Table, error)

	// ListColumns returns the columns of one table.
	ListColumns(ctx context.Context, ref TableRef) ([]Column, error)

	// ListForeignKeys returns the foreign keys declared on one table.
	ListForeignKeys(ctx context.Context, ref TableRef) ([]ForeignKey, error)
}
