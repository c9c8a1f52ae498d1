package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/catalog"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

// DiscoveryService finds the tables in the crawled inventory that likely hold
// a subject's personal data. Discovery works purely on metadata; it never
// touches warehouse rows.
type DiscoveryService interface {
	// DiscoverTables returns candidate tables whose confidence meets the
	// threshold, each annotated with matched columns and foreign key
	// dependencies. EstimatedRows is left for the caller to fill in.
	DiscoverTables(ctx context.Context, subjectType string) ([]models.PlannedTable, error)
}

type discoveryService struct {
	catalog   catalog.Reader
	matcher   *ColumnMatcher
	scorer    *ConfidenceScorer
	threshold float64
	logger    *zap.Logger
}

var _ DiscoveryService = (*discoveryService)(nil)

// NewDiscoveryService creates a DiscoveryService.
func NewDiscoveryService(reader catalog.Reader, matcher *ColumnMatcher, scorer *ConfidenceScorer, threshold float64, logger *zap.Logger) DiscoveryService {
	return &discoveryService{
		catalog:   reader,
		matcher:   matcher,
		scorer:    scorer,
		threshold: threshold,
		logger:    logger.Named("discovery"),
	}
}

func (s *discoveryService) DiscoverTables(ctx context.Context, subjectType string) ([]models.PlannedTable, error) {
	tables, err := s.catalog.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog tables: %w", err)
	}

	var candidates []models.PlannedTable
	for _, table := range tables {
		candidate, ok := s.evaluateTable(ctx, subjectType, table)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}

	s.logger.Info("discovery finished",
		zap.String("subject_type", subjectType),
		zap.Int("tables_scanned", len(tables)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// evaluateTable scores one table. Metadata read failures are logged and the
// table is skipped so one broken inventory entry cannot sink the whole run.
func (s *discoveryService) evaluateTable(ctx context.Context, subjectType string, table catalog.Table) (models.PlannedTable, bool) {
	columns, err := s.catalog.ListColumns(ctx, table.TableRef)
	if err != nil {
		s.logger.Warn("skipping table, failed to list columns",
			zap.String("table", table.QualifiedName()),
			zap.Error(err))
		return models.PlannedTable{}, false
	}

	matches := s.matcher.Match(subjectType, columns)
	if len(matches) == 0 {
		return models.PlannedTable{}, false
	}

	confidence := s.scorer.Score(table.SchemaName, table.TableName, matches)
	if confidence < s.threshold {
		s.logger.Debug("candidate below confidence threshold",
			zap.String("table", table.QualifiedName()),
			zap.Float64("confidence", confidence))
		return models.PlannedTable{}, false
	}

	foreignKeys, err := s.catalog.ListForeignKeys(ctx, table.TableRef)
	if err != nil {
		s.logger.Warn("skipping table, failed to list foreign keys",
			zap.String("table", table.QualifiedName()),
			zap.Error(err))
		return models.PlannedTable{}, false
	}

	matchedColumns := make([]string, len(matches))
	for i, m := range matches {
		matchedColumns[i] = m.ColumnName
	}

	var dependencies []string
	for _, fk := range foreignKeys {
		dependencies = append(dependencies, fk.Referenced.QualifiedName())
	}

	return models.PlannedTable{
		DatabaseName: table.DatabaseName,
		SchemaName:   table.SchemaName,
		TableName:    table.TableName,
		Columns:      matchedColumns,
		Confidence:   confidence,
		Dependencies: dependencies,
	}, true
}
