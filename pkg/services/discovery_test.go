package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/dsr-engine/pkg/catalog"
)

func newDiscovery(t *testing.T, cat *fakeCatalog, threshold float64) DiscoveryService {
	t.Helper()
	return NewDiscoveryService(cat, NewColumnMatcher(), NewConfidenceScorer(), threshold, zaptest.NewLogger(t))
}

func TestDiscoverTables_FindsMatchingTables(t *testing.T) {
	cat, _ := usersOrdersCatalog()
	svc := newDiscovery(t, cat, 0.3)

	candidates, err := svc.DiscoverTables(context.Background(), "email")
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "users", candidates[0].TableName)
	assert.Equal(t, []string{"email"}, candidates[0].Columns)
	assert.InDelta(t, 0.9, candidates[0].Confidence, 1e-9)

	assert.Equal(t, "orders", candidates[1].TableName)
	assert.Equal(t, []string{"user_email"}, candidates[1].Columns)
	assert.Equal(t, []string{"shop.public.users"}, candidates[1].Dependencies)
}

func TestDiscoverTables_ThresholdFiltersWeakCandidates(t *testing.T) {
	cat := newFakeCatalog()
	// Substring match in an unremarkable table: 0.6 * 0.8 = 0.48.
	cat.addTable("shop", "public", "event_stream", 100,
		catalog.Column{ColumnName: "raw_email_blob", DataType: "text", OrdinalPosition: 1},
	)
	svc := newDiscovery(t, cat, 0.5)

	candidates, err := svc.DiscoverTables(context.Background(), "email")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestDiscoverTables_BrokenTableIsSkipped(t *testing.T) {
	cat, _ := usersOrdersCatalog()
	cat.columnsErr["shop.public.users"] = assert.AnError
	svc := newDiscovery(t, cat, 0.3)

	candidates, err := svc.DiscoverTables(context.Background(), "email")
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "orders", candidates[0].TableName)
}

func TestDiscoverTables_EmptyCatalog(t *testing.T) {
	svc := newDiscovery(t, newFakeCatalog(), 0.3)

	candidates, err := svc.DiscoverTables(context.Background(), "email")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
