//go:build integration

package catalog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dsr-engine/pkg/catalog"
	"github.com/ekaya-inc/dsr-engine/pkg/testhelpers"
)

func seedInventory(t *testing.T, engineDB *testhelpers.EngineDB) {
	t.Helper()
	ctx := context.Background()

	_, err := engineDB.DB.Exec(ctx,
		`TRUNCATE catalog_tables, catalog_columns, catalog_foreign_keys`)
	require.NoError(t, err)

	_, err = engineDB.DB.Exec(ctx, `
		INSERT INTO catalog_tables (database_name, schema_name, table_name, row_count) VALUES
			('shop', 'public', 'users', 1000),
			('shop', 'public', 'orders', 50000)`)
	require.NoError(t, err)

	_, err = engineDB.DB.Exec(ctx, `
		INSERT INTO catalog_columns (database_name, schema_name, table_name, column_name, data_type, ordinal_position) VALUES
			('shop', 'public', 'users', 'id', 'uuid', 1),
			('shop', 'public', 'users', 'email', 'text', 2),
			('shop', 'public', 'orders', 'id', 'uuid', 1),
			('shop', 'public', 'orders', 'user_email', 'text', 2)`)
	require.NoError(t, err)

	_, err = engineDB.DB.Exec(ctx, `
		INSERT INTO catalog_foreign_keys (database_name, schema_name, table_name, constraint_name,
			referenced_database, referenced_schema, referenced_table) VALUES
			('shop', 'public', 'orders', 'orders_user_fk', 'shop', 'public', 'users')`)
	require.NoError(t, err)
}

func TestPostgresReader_Inventory(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	seedInventory(t, engineDB)
	reader := catalog.NewPostgresReader(engineDB.DB)
	ctx := context.Background()

	tables, err := reader.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "orders", tables[0].TableName)
	assert.Equal(t, int64(50000), tables[0].RowCount)
	assert.Equal(t, "users", tables[1].TableName)

	users := catalog.TableRef{DatabaseName: "shop", SchemaName: "public", TableName: "users"}
	columns, err := reader.ListColumns(ctx, users)
	require.NoError(t, err)
	require.Len(t, columns, 2)
	assert.Equal(t, "id", columns[0].ColumnName)
	assert.Equal(t, "email", columns[1].ColumnName)
	assert.Equal(t, 2, columns[1].OrdinalPosition)

	orders := catalog.TableRef{DatabaseName: "shop", SchemaName: "public", TableName: "orders"}
	fks, err := reader.ListForeignKeys(ctx, orders)
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, "orders_user_fk", fks[0].ConstraintName)
	assert.Equal(t, "shop.public.users", fks[0].Referenced.QualifiedName())

	fks, err = reader.ListForeignKeys(ctx, users)
	require.NoError(t, err)
	assert.Empty(t, fks)
}
