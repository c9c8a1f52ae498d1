package services

import (
	"strings"

	"github.com/ekaya-inc/dsr-engine/pkg/catalog"
)

// Column match scores. Exact name matches beat affix matches beat plain
// substring containment; the first matching pattern wins.
const (
	scoreExact     = 1.0
	scoreAffix     = 0.9
	scoreSubstring = 0.8
)

// subjectPatterns maps a subject identifier type to the column name patterns
// that commonly hold it, strongest first. Unknown subject types fall back to
// using the subject type string itself as the only pattern.
var subjectPatterns = map[string][]string{
	"email":   {"email", "email_address", "e_mail", "user_email", "contact_email", "mail"},
	"user_id": {"user_id", "id", "customer_id", "account_id", "member_id"},
	"phone":   {"phone", "phone_number", "mobile", "telephone", "contact_phone"},
	"name":    {"full_name", "name", "first_name", "last_name", "customer_name"},
}

// ColumnMatch is one column judged likely to hold the subject's data.
type ColumnMatch struct {
	ColumnName string
	DataType   string
	Score      float64
}

// ColumnMatcher scores which columns of a table are likely to hold data for
// a given subject identifier type, using name-pattern heuristics. It is a
// pure function over its inputs; name matching never inspects actual data.
type ColumnMatcher struct{}

// NewColumnMatcher creates a ColumnMatcher.
func NewColumnMatcher() *ColumnMatcher {
	return &ColumnMatcher{}
}

// Match returns the columns considered relevant for the subject type, each
// annotated with a relevance score in [0,1]. Columns that match no pattern
// are excluded. A column matches at most once, on the first pattern that hits.
func (m *ColumnMatcher) Match(subjectType string, columns []catalog.Column) []ColumnMatch {
	patterns := m.patternsFor(subjectType)

	var matches []ColumnMatch
	for _, col := range columns {
		name := strings.ToLower(col.ColumnName)
		for _, pattern := range patterns {
			score, ok := scoreColumnName(name, pattern)
			if !ok {
				continue
			}
			matches = append(matches, ColumnMatch{
				ColumnName: col.ColumnName,
				DataType:   col.DataType,
				Score:      score,
			})
			break
		}
	}

	return matches
}

func (m *ColumnMatcher) patternsFor(subjectType string) []string {
	key := strings.ToLower(strings.TrimSpace(subjectType))
	if patterns, ok := subjectPatterns[key]; ok {
		return patterns
	}
	if key == "" {
		return nil
	}
	return []string{key}
}

// scoreColumnName tests one lower-cased column name against one pattern.
func scoreColumnName(name, pattern string) (float64, bool) {
	switch {
	case name == pattern:
		return scoreExact, true
	case strings.HasPrefix(name, pattern), strings.HasSuffix(name, pattern):
		return scoreAffix, true
	case strings.Contains(name, pattern):
		return scoreSubstring, true
	}
	return 0, false
}
