package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dsr-engine/pkg/catalog"
)

func cols(names ...string) []catalog.Column {
	out := make([]catalog.Column, len(names))
	for i, n := range names {
		out[i] = catalog.Column{ColumnName: n, DataType: "text", OrdinalPosition: i + 1}
	}
	return out
}

func TestColumnMatcher_Match(t *testing.T) {
	m := NewColumnMatcher()

	tests := []struct {
		name        string
		subjectType string
		columns     []catalog.Column
		want        map[string]float64
	}{
		{
			name:        "exact match scores highest",
			subjectType: "email",
			columns:     cols("email"),
			want:        map[string]float64{"email": 1.0},
		},
		{
			name:        "prefix and suffix matches",
			subjectType: "email",
			columns:     cols("email_verified_at", "billing_email"),
			want:        map[string]float64{"email_verified_at": 0.9, "billing_email": 0.9},
		},
		{
			name:        "substring match",
			subjectType: "email",
			columns:     cols("primary_email_hash"),
			want:        map[string]float64{"primary_email_hash": 0.8},
		},
		{
			name:        "irrelevant columns excluded",
			subjectType: "email",
			columns:     cols("id", "created_at", "status"),
			want:        map[string]float64{},
		},
		{
			name:        "user_id patterns",
			subjectType: "user_id",
			columns:     cols("user_id", "order_total", "customer_id"),
			want:        map[string]float64{"user_id": 1.0, "customer_id": 1.0},
		},
		{
			name:        "unknown subject type falls back to itself",
			subjectType: "loyalty_number",
			columns:     cols("loyalty_number", "loyalty_number_hash", "seat"),
			want:        map[string]float64{"loyalty_number": 1.0, "loyalty_number_hash": 0.9},
		},
		{
			name:        "case insensitive on column names",
			subjectType: "email",
			columns:     cols("Email"),
			want:        map[string]float64{"Email": 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := m.Match(tt.subjectType, tt.columns)
			require.Len(t, matches, len(tt.want))
			for _, match := range matches {
				want, ok := tt.want[match.ColumnName]
				require.True(t, ok, "unexpected match on %s", match.ColumnName)
				assert.InDelta(t, want, match.Score, 1e-9, "score for %s", match.ColumnName)
			}
		})
	}
}

func TestColumnMatcher_FirstPatternWins(t *testing.T) {
	m := NewColumnMatcher()

	// "email_address" matches the exact second pattern but also matches the
	// first pattern ("email") as a prefix; the first hit decides the score.
	matches := m.Match("email", cols("email_address"))
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.9, matches[0].Score, 1e-9)
}

func TestColumnMatcher_EmptySubjectType(t *testing.T) {
	m := NewColumnMatcher()
	assert.Empty(t, m.Match("", cols("email", "user_id")))
}
