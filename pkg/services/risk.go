package services

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

// criticalTableTerms flag tables whose deletion carries business or
// compliance risk beyond the subject's own data.
var criticalTableTerms = []string{
	"payment", "billing", "invoice", "financial",
	"audit", "compliance", "legal",
	"system", "config", "admin",
}

// RiskAssessor decides whether a deletion plan needs a human approver and
// produces the warnings that explain why.
type RiskAssessor struct {
	// approvalRowThreshold is the total estimated row count above which a
	// plan always requires approval.
	approvalRowThreshold int64
}

// NewRiskAssessor creates a RiskAssessor with the given row threshold.
func NewRiskAssessor(approvalRowThreshold int64) *RiskAssessor {
	return &RiskAssessor{approvalRowThreshold: approvalRowThreshold}
}

// Assess inspects the sequenced plan tables and fills in Warnings and
// RequiresApproval on a plan. Any single warning is enough to gate the plan.
func (a *RiskAssessor) Assess(tables []models.PlannedTable, totalEstimatedRows int64) ([]string, bool) {
	var warnings []string

	if totalEstimatedRows > a.approvalRowThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"plan affects a large number of records (%d rows, threshold %d)",
			totalEstimatedRows, a.approvalRowThreshold))
	}

	for _, table := range tables {
		if len(table.Dependencies) > 0 {
			warnings = append(warnings, "referential dependencies present; deletion order must be respected")
			break
		}
	}

	if critical := criticalTables(tables); len(critical) > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"critical business tables affected: %s", strings.Join(critical, ", ")))
	}

	return warnings, len(warnings) > 0
}

func criticalTables(tables []models.PlannedTable) []string {
	var names []string
	for _, table := range tables {
		name := strings.ToLower(table.TableName)
		for _, term := range criticalTableTerms {
			if strings.Contains(name, term) {
				names = append(names, table.QualifiedName())
				break
			}
		}
	}
	return names
}
