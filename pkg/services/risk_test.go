package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

func TestRiskAssessor_Assess(t *testing.T) {
	a := NewRiskAssessor(10000)

	tests := []struct {
		name         string
		tables       []models.PlannedTable
		totalRows    int64
		wantApproval bool
		wantWarnings int
	}{
		{
			name:         "small clean plan needs no approval",
			tables:       []models.PlannedTable{planned("shop", "public", "profiles")},
			totalRows:    12,
			wantApproval: false,
			wantWarnings: 0,
		},
		{
			name:         "row count over threshold",
			tables:       []models.PlannedTable{planned("shop", "public", "events")},
			totalRows:    10001,
			wantApproval: true,
			wantWarnings: 1,
		},
		{
			name:         "row count exactly at threshold does not gate",
			tables:       []models.PlannedTable{planned("shop", "public", "events")},
			totalRows:    10000,
			wantApproval: false,
			wantWarnings: 0,
		},
		{
			name: "dependencies gate even when rows are few",
			tables: []models.PlannedTable{
				planned("shop", "public", "users"),
				planned("shop", "public", "orders", "shop.public.users"),
			},
			totalRows:    41,
			wantApproval: true,
			wantWarnings: 1,
		},
		{
			name:         "critical table name gates",
			tables:       []models.PlannedTable{planned("shop", "public", "payment_methods")},
			totalRows:    3,
			wantApproval: true,
			wantWarnings: 1,
		},
		{
			name: "all three rules stack",
			tables: []models.PlannedTable{
				planned("shop", "public", "billing_accounts", "shop.public.users"),
				planned("shop", "public", "users"),
			},
			totalRows:    50000,
			wantApproval: true,
			wantWarnings: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings, approval := a.Assess(tt.tables, tt.totalRows)
			assert.Equal(t, tt.wantApproval, approval)
			assert.Len(t, warnings, tt.wantWarnings)
		})
	}
}

func TestRiskAssessor_CriticalTableNamesListed(t *testing.T) {
	a := NewRiskAssessor(10000)

	warnings, approval := a.Assess([]models.PlannedTable{
		planned("shop", "public", "audit_trail"),
		planned("shop", "public", "profiles"),
		planned("shop", "public", "legal_holds"),
	}, 10)

	require.True(t, approval)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "shop.public.audit_trail")
	assert.Contains(t, warnings[0], "shop.public.legal_holds")
	assert.NotContains(t, warnings[0], "profiles")
}
