package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestItem is one table-scoped unit of work belonging to a Request.
// The {database, schema, table} triple is unique within a request.
type RequestItem struct {
	ID             uuid.UUID      `json:"id"`
	RequestID      uuid.UUID      `json:"request_id"`
	DatabaseName   string         `json:"database_name"`
	SchemaName     string         `json:"schema_name"`
	TableName      string         `json:"table_name"`
	Position       int            `json:"position"`
	MatchedColumns []string       `json:"matched_columns"`
	Status         string         `json:"status"`
	AffectedRows   int64          `json:"affected_rows"`
	ResultData     map[string]any `json:"result_data,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// QualifiedName returns the database.schema.table identity of the item.
func (i *RequestItem) QualifiedName() string {
	return i.DatabaseName + "." + i.SchemaName + "." + i.TableName
}
