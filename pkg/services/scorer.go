package services

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Weights for the table confidence formula. Column evidence dominates; table
// and schema naming only nudge the score.
const (
	columnWeight    = 0.6
	tableNameBonus  = 0.3
	schemaNameBonus = 0.1
	maxConfidence   = 1.0
)

// personalDataNouns are table-name tokens that suggest a table holds personal
// records. Tokens are compared in singular form, so "users" and "user" both hit.
var personalDataNouns = map[string]struct{}{
	"user":        {},
	"customer":    {},
	"account":     {},
	"profile":     {},
	"contact":     {},
	"order":       {},
	"transaction": {},
}

// personalDataSchemas are schema names that suggest person-centric data.
var personalDataSchemas = map[string]struct{}{
	"user":     {},
	"customer": {},
	"crm":      {},
}

// ConfidenceScorer turns column matches plus table and schema naming into a
// single confidence value in [0,1].
type ConfidenceScorer struct{}

// NewConfidenceScorer creates a ConfidenceScorer.
func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{}
}

// Score computes the confidence that a table holds the subject's personal
// data. Tables with no column matches always score zero regardless of naming.
func (s *ConfidenceScorer) Score(schemaName, tableName string, matches []ColumnMatch) float64 {
	if len(matches) == 0 {
		return 0
	}

	var sum float64
	for _, m := range matches {
		sum += m.Score
	}
	confidence := columnWeight * (sum / float64(len(matches)))

	if nameSuggestsPersonalData(tableName) {
		confidence += tableNameBonus
	}
	if _, ok := personalDataSchemas[strings.ToLower(schemaName)]; ok {
		confidence += schemaNameBonus
	}

	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}

// nameSuggestsPersonalData checks each underscore-separated token of the
// table name, singularized, against the personal-data vocabulary.
func nameSuggestsPersonalData(tableName string) bool {
	for _, token := range strings.Split(strings.ToLower(tableName), "_") {
		if token == "" {
			continue
		}
		if _, ok := personalDataNouns[inflection.Singular(token)]; ok {
			return true
		}
	}
	return false
}
