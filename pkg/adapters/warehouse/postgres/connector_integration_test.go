//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse/postgres"
	"github.com/ekaya-inc/dsr-engine/pkg/testhelpers"
)

func setupWarehouse(t *testing.T) (*postgres.Connector, warehouse.Target) {
	t.Helper()
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()

	_, err := engineDB.DB.Exec(ctx, `DROP TABLE IF EXISTS wh_customers`)
	require.NoError(t, err)
	_, err = engineDB.DB.Exec(ctx, `
		CREATE TABLE wh_customers (
			id SERIAL PRIMARY KEY,
			email TEXT,
			backup_email TEXT,
			plan TEXT
		)`)
	require.NoError(t, err)
	_, err = engineDB.DB.Exec(ctx, `
		INSERT INTO wh_customers (email, backup_email, plan) VALUES
			('alice@example.com', NULL, 'pro'),
			('bob@example.com', 'alice@example.com', 'free'),
			('carol@example.com', NULL, 'free')`)
	require.NoError(t, err)

	connector, err := postgres.NewConnector(ctx, engineDB.ConnStr, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = connector.Close() })

	return connector, warehouse.Target{
		DatabaseName: "dsr_engine_test",
		SchemaName:   "public",
		TableName:    "wh_customers",
		Columns:      []string{"email", "backup_email"},
	}
}

func TestConnector_EstimateExportDelete(t *testing.T) {
	connector, target := setupWarehouse(t)
	ctx := context.Background()

	// Both the primary and the backup email column match.
	count, err := connector.EstimateRows(ctx, target, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	result, err := connector.ExportRows(ctx, target, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RowCount)
	assert.Contains(t, result.Columns, "plan")
	require.Len(t, result.Rows, 2)
	var plans []string
	for _, row := range result.Rows {
		plans = append(plans, row["plan"].(string))
	}
	assert.ElementsMatch(t, []string{"pro", "free"}, plans)

	affected, err := connector.DeleteRows(ctx, target, "alice@example.com", warehouse.DeleteModeHard)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	count, err = connector.EstimateRows(ctx, target, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestConnector_RedactMode(t *testing.T) {
	connector, target := setupWarehouse(t)
	ctx := context.Background()

	affected, err := connector.DeleteRows(ctx, target, "bob@example.com", warehouse.DeleteModeRedact)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// The row survives with matched columns nulled out.
	engineDB := testhelpers.GetEngineDB(t)
	var plan string
	var email *string
	err = engineDB.DB.QueryRow(ctx,
		`SELECT email, plan FROM wh_customers WHERE plan = 'free' AND email IS NULL`).
		Scan(&email, &plan)
	require.NoError(t, err)
	assert.Nil(t, email)
	assert.Equal(t, "free", plan)
}

func TestConnector_EmptyColumnTargets(t *testing.T) {
	connector, target := setupWarehouse(t)
	target.Columns = nil
	ctx := context.Background()

	count, err := connector.EstimateRows(ctx, target, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	affected, err := connector.DeleteRows(ctx, target, "alice@example.com", warehouse.DeleteModeHard)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}
