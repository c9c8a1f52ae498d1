package warehouse

import (
	"context"
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/dsr-engine/pkg/apperrors"
)

// DeleteMode selects how matching rows are removed.
type DeleteMode string

const (
	// DeleteModeHard removes matching rows entirely.
	DeleteModeHard DeleteMode = "hard_delete"
	// DeleteModeRedact nulls out the matched columns, keeping the rows.
	DeleteModeRedact DeleteMode = "redact"
)

// Target identifies one table and the columns that may hold the subject value.
type Target struct {
	DatabaseName string
	SchemaName   string
	TableName    string
	Columns      []string
}

// ExportResult holds rows extracted for one table.
type ExportResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int64            `json:"row_count"`
}

// Connector performs the actual row-level work against the warehouse for one
// request item. Rows match when any of the target's columns equals the
// subject value. Retry and backoff are the connector's concern, not the
// orchestrator's.
//
// DeleteRows with DeleteModeHard assumes the caller ordered tables so that
// referencing rows are removed before the rows they reference; the connector
// itself does not resolve constraint ordering.
type Connector interface {
	// EstimateRows returns the number of rows matching the subject value.
	EstimateRows(ctx context.Context, target Target, subjectValue string) (int64, error)

	// ExportRows extracts all rows matching the subject value.
	ExportRows(ctx context.Context, target Target, subjectValue string) (*ExportResult, error)

	// DeleteRows removes or redacts matching rows and returns the affected count.
	DeleteRows(ctx context.Context, target Target, subjectValue string, mode DeleteMode) (int64, error)

	// Close releases the warehouse connection.
	Close() error
}

// ScreenSubjectValue rejects subject values carrying SQL injection patterns.
// Values are always bound as query parameters, so this is a second line of
// defense against malformed catalog data ending up in generated SQL.
func ScreenSubjectValue(subjectValue string) error {
	if subjectValue == "" {
		return fmt.Errorf("%w: empty value", apperrors.ErrUnsafeSubjectValue)
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(subjectValue); isSQLi {
		return fmt.Errorf("%w: fingerprint %s", apperrors.ErrUnsafeSubjectValue, string(fingerprint))
	}
	return nil
}
