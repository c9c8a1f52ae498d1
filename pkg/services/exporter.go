package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dsr-engine/pkg/logging"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
	"github.com/ekaya-inc/dsr-engine/pkg/repositories"
	"github.com/ekaya-inc/dsr-engine/pkg/services/workqueue"
)

// ExportService handles right-of-access requests: discover the subject's
// tables, extract the matching rows from each, and store the extracts on the
// request items. Exports never require approval and are scheduled immediately.
type ExportService interface {
	// CreateExportRequest submits a new export request and schedules it for
	// background processing.
	CreateExportRequest(ctx context.Context, subjectType, subjectValue, requestedBy string, reason *string) (*models.Request, error)

	// Process runs a pending export request to completion. Calling it on a
	// request that is not pending is a no-op.
	Process(ctx context.Context, requestID uuid.UUID) error

	// Resume schedules background processing of an already-submitted request.
	Resume(requestID uuid.UUID)

	// GetExportStatus returns an export request with items and progress.
	GetExportStatus(ctx context.Context, requestID uuid.UUID) (*models.RequestStatus, error)
}

type exportService struct {
	*processor
	discovery DiscoveryService
	connector warehouse.Connector
	logger    *zap.Logger
}

var _ ExportService = (*exportService)(nil)
var _ requestExecutor = (*exportService)(nil)

// NewExportService creates an ExportService.
func NewExportService(
	requests repositories.RequestRepository,
	items repositories.RequestItemRepository,
	audit repositories.AuditRepository,
	discovery DiscoveryService,
	connector warehouse.Connector,
	queue *workqueue.Queue,
	logger *zap.Logger,
) ExportService {
	named := logger.Named("export")
	return &exportService{
		processor: newProcessor(requests, items, audit, queue, named),
		discovery: discovery,
		connector: connector,
		logger:    named,
	}
}

func (s *exportService) CreateExportRequest(ctx context.Context, subjectType, subjectValue, requestedBy string, reason *string) (*models.Request, error) {
	if err := warehouse.ScreenSubjectValue(subjectValue); err != nil {
		return nil, err
	}

	request := &models.Request{
		Kind:         models.RequestKindExport,
		SubjectType:  subjectType,
		SubjectValue: subjectValue,
		RequestedBy:  requestedBy,
		Reason:       reason,
		Metadata:     map[string]any{},
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, request.ID, models.AuditActionSubmitted, requestedBy,
		nil, strPtr(models.StatusPending), nil)

	s.logger.Info("export request submitted",
		zap.String("request_id", request.ID.String()),
		zap.String("subject_type", subjectType),
		zap.String("subject_digest", logging.SubjectDigest(subjectValue)))

	s.Resume(request.ID)
	return request, nil
}

func (s *exportService) Process(ctx context.Context, requestID uuid.UUID) error {
	return s.process(ctx, requestID, s)
}

func (s *exportService) GetExportStatus(ctx context.Context, requestID uuid.UUID) (*models.RequestStatus, error) {
	return s.statusForKind(ctx, requestID, models.RequestKindExport)
}

func (s *exportService) Resume(requestID uuid.UUID) {
	s.schedule("export", requestID, func(ctx context.Context) error {
		return s.Process(ctx, requestID)
	})
}

// planItems discovers the subject's tables at processing time, so exports
// always run against the freshest inventory.
func (s *exportService) planItems(ctx context.Context, req *models.Request) ([]*models.RequestItem, error) {
	candidates, err := s.discovery.DiscoverTables(ctx, req.SubjectType)
	if err != nil {
		return nil, err
	}

	items := make([]*models.RequestItem, 0, len(candidates))
	for _, candidate := range candidates {
		items = append(items, &models.RequestItem{
			RequestID:      req.ID,
			DatabaseName:   candidate.DatabaseName,
			SchemaName:     candidate.SchemaName,
			TableName:      candidate.TableName,
			MatchedColumns: candidate.Columns,
		})
	}
	return items, nil
}

// executeItem extracts the matching rows of one table. The extract is stored
// on the item as its result document.
func (s *exportService) executeItem(ctx context.Context, req *models.Request, item *models.RequestItem) (int64, map[string]any, error) {
	target := warehouse.Target{
		DatabaseName: item.DatabaseName,
		SchemaName:   item.SchemaName,
		TableName:    item.TableName,
		Columns:      item.MatchedColumns,
	}

	result, err := s.connector.ExportRows(ctx, target, req.SubjectValue)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to export rows from %s: %w", item.QualifiedName(), err)
	}

	resultData := map[string]any{
		"columns":   result.Columns,
		"rows":      result.Rows,
		"row_count": result.RowCount,
	}
	return result.RowCount, resultData, nil
}
