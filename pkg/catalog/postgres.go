package catalog

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/dsr-engine/pkg/database"
)

// PostgresReader reads the crawled inventory tables in the engine store.
type PostgresReader struct {
	db *database.DB
}

// NewPostgresReader creates a Reader backed by the catalog_* inventory tables.
func NewPostgresReader(db *database.DB) *PostgresReader {
	return &PostgresReader{db: db}
}

var _ Reader = (*PostgresReader)(nil)

func (r *PostgresReader) ListTables(ctx context.Context) ([]Table, error) {
	const query = `
		SELECT database_name, schema_name, table_name, row_count
		FROM catalog_tables
		ORDER BY database_name, schema_name, table_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.DatabaseName, &t.SchemaName, &t.TableName, &t.RowCount); err != nil {
			return nil, fmt.Errorf("failed to scan catalog table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog tables: %w", err)
	}

	return tables, nil
}

func (r *PostgresReader) ListColumns(ctx context.Context, ref TableRef) ([]Column, error) {
	const query = `
		SELECT column_name, data_type, ordinal_position
		FROM catalog_columns
		WHERE database_name = $1 AND schema_name = $2 AND table_name = $3
		ORDER BY ordinal_position`

	rows, err := r.db.Query(ctx, query, ref.DatabaseName, ref.SchemaName, ref.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog columns: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("failed to scan catalog column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog columns: %w", err)
	}

	return columns, nil
}

func (r *PostgresReader) ListForeignKeys(ctx context.Context, ref TableRef) ([]ForeignKey, error) {
	const query = `
		SELECT constraint_name, referenced_database, referenced_schema, referenced_table
		FROM catalog_foreign_keys
		WHERE database_name = $1 AND schema_name = $2 AND table_name = $3
		ORDER BY constraint_name`

	rows, err := r.db.Query(ctx, query, ref.DatabaseName, ref.SchemaName, ref.TableName)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ConstraintName,
			&fk.Referenced.DatabaseName, &fk.Referenced.SchemaName, &fk.Referenced.TableName); err != nil {
			return nil, fmt.Errorf("failed to scan catalog foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog foreign keys: %w", err)
	}

	return fks, nil
}
