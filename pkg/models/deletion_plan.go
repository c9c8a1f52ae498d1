package models

// PlannedTable is one table slated for processing, annotated with discovery
// and sequencing output.
type PlannedTable struct {
	DatabaseName  string   `json:"database_name"`
	SchemaName    string   `json:"schema_name"`
	TableName     string   `json:"table_name"`
	Columns       []string `json:"columns"`
	Confidence    float64  `json:"confidence"`
	EstimatedRows int64    `json:"estimated_rows"`
	// Dependencies holds qualified names of tables this table references
	// via foreign keys. Referencing tables are processed first.
	Dependencies  []string `json:"dependencies,omitempty"`
	DeletionOrder int      `json:"deletion_order"`
}

// QualifiedName returns the database.schema.table identity of the planned table.
func (t *PlannedTable) QualifiedName() string {
	return t.DatabaseName + "." + t.SchemaName + "." + t.TableName
}

// DeletionPlan is the output of discovery + sequencing + risk assessment for
// one delete request. It is computed once at submission time and embedded in
// Request.Metadata under "deletion_plan".
type DeletionPlan struct {
	TablesToProcess    []PlannedTable `json:"tables_to_process"`
	TotalEstimatedRows int64          `json:"total_estimated_rows"`
	Warnings           []string       `json:"warnings,omitempty"`
	RequiresApproval   bool           `json:"requires_approval"`
}
