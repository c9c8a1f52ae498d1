package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dsr-engine/pkg/apperrors"
	"github.com/ekaya-inc/dsr-engine/pkg/logging"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
	"github.com/ekaya-inc/dsr-engine/pkg/repositories"
	"github.com/ekaya-inc/dsr-engine/pkg/services/workqueue"
)

// DeletionRequestParams are the inputs for submitting a right-of-erasure request.
type DeletionRequestParams struct {
	SubjectType  string
	SubjectValue string
	RequestedBy  string
	Reason       *string
	// Mode defaults to hard deletion when empty.
	Mode warehouse.DeleteMode
	// VerificationRequired forces manual approval regardless of risk.
	VerificationRequired bool
}

// DeletionService handles right-of-erasure requests. A deletion plan is
// computed synchronously at submission time and embedded in the request;
// execution only starts once the plan clears verification and risk gating.
type DeletionService interface {
	// CreateDeletionRequest submits a new delete request. When neither the
	// caller nor the risk assessment demands approval, processing is
	// scheduled immediately.
	CreateDeletionRequest(ctx context.Context, params DeletionRequestParams) (*models.Request, error)

	// GeneratePlan computes a deletion plan without submitting a request.
	GeneratePlan(ctx context.Context, subjectType, subjectValue string) (*models.DeletionPlan, error)

	// Approve releases a pending request for processing.
	Approve(ctx context.Context, requestID uuid.UUID, approver string) error

	// Reject permanently declines a pending request.
	Reject(ctx context.Context, requestID uuid.UUID, approver, reason string) error

	// Process runs a pending delete request to completion. Calling it on a
	// request that is not pending is a no-op.
	Process(ctx context.Context, requestID uuid.UUID) error

	// Resume schedules background processing of an already-submitted request.
	Resume(requestID uuid.UUID)

	// GetDeletionStatus returns a delete request with items, progress and the
	// total number of rows removed so far.
	GetDeletionStatus(ctx context.Context, requestID uuid.UUID) (*models.RequestStatus, error)
}

type deletionService struct {
	*processor
	discovery DiscoveryService
	sequencer *DeletionSequencer
	risk      *RiskAssessor
	connector warehouse.Connector
	logger    *zap.Logger
}

var _ DeletionService = (*deletionService)(nil)
var _ requestExecutor = (*deletionService)(nil)

// NewDeletionService creates a DeletionService.
func NewDeletionService(
	requests repositories.RequestRepository,
	items repositories.RequestItemRepository,
	audit repositories.AuditRepository,
	discovery DiscoveryService,
	sequencer *DeletionSequencer,
	risk *RiskAssessor,
	connector warehouse.Connector,
	queue *workqueue.Queue,
	logger *zap.Logger,
) DeletionService {
	named := logger.Named("deletion")
	return &deletionService{
		processor: newProcessor(requests, items, audit, queue, named),
		discovery: discovery,
		sequencer: sequencer,
		risk:      risk,
		connector: connector,
		logger:    named,
	}
}

func (s *deletionService) CreateDeletionRequest(ctx context.Context, params DeletionRequestParams) (*models.Request, error) {
	if err := warehouse.ScreenSubjectValue(params.SubjectValue); err != nil {
		return nil, err
	}

	mode := params.Mode
	if mode == "" {
		mode = warehouse.DeleteModeHard
	}
	if mode != warehouse.DeleteModeHard && mode != warehouse.DeleteModeRedact {
		return nil, fmt.Errorf("unknown delete mode %q", mode)
	}

	plan, err := s.GeneratePlan(ctx, params.SubjectType, params.SubjectValue)
	if err != nil {
		return nil, err
	}

	request := &models.Request{
		Kind:         models.RequestKindDelete,
		SubjectType:  params.SubjectType,
		SubjectValue: params.SubjectValue,
		RequestedBy:  params.RequestedBy,
		Reason:       params.Reason,
		Metadata: map[string]any{
			models.MetadataKeyDeletionPlan: plan,
			models.MetadataKeyDeleteMode:   string(mode),
			models.MetadataKeyVerification: params.VerificationRequired,
		},
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, request.ID, models.AuditActionSubmitted, params.RequestedBy,
		nil, strPtr(models.StatusPending), map[string]any{
			"tables":                len(plan.TablesToProcess),
			"total_estimated_rows":  plan.TotalEstimatedRows,
			"requires_approval":     plan.RequiresApproval,
			"verification_required": params.VerificationRequired,
		})

	s.logger.Info("delete request submitted",
		zap.String("request_id", request.ID.String()),
		zap.String("subject_type", params.SubjectType),
		zap.String("subject_digest", logging.SubjectDigest(params.SubjectValue)),
		zap.Int("tables", len(plan.TablesToProcess)),
		zap.Int64("total_estimated_rows", plan.TotalEstimatedRows),
		zap.Bool("requires_approval", plan.RequiresApproval))

	if !params.VerificationRequired && !plan.RequiresApproval {
		s.Resume(request.ID)
	}

	return request, nil
}

func (s *deletionService) GeneratePlan(ctx context.Context, subjectType, subjectValue string) (*models.DeletionPlan, error) {
	if err := warehouse.ScreenSubjectValue(subjectValue); err != nil {
		return nil, err
	}

	candidates, err := s.discovery.DiscoverTables(ctx, subjectType)
	if err != nil {
		return nil, err
	}

	// Deletion plans only include tables that actually hold rows for this
	// subject. Estimate failures drop the table rather than sinking the plan.
	var withRows []models.PlannedTable
	for _, candidate := range candidates {
		target := warehouse.Target{
			DatabaseName: candidate.DatabaseName,
			SchemaName:   candidate.SchemaName,
			TableName:    candidate.TableName,
			Columns:      candidate.Columns,
		}
		rows, err := s.connector.EstimateRows(ctx, target, subjectValue)
		if err != nil {
			s.logger.Warn("skipping table, row estimate failed",
				zap.String("table", candidate.QualifiedName()),
				zap.Error(err))
			continue
		}
		if rows == 0 {
			continue
		}
		candidate.EstimatedRows = rows
		withRows = append(withRows, candidate)
	}

	ordered := s.sequencer.Sequence(withRows)

	var totalRows int64
	for _, table := range ordered {
		totalRows += table.EstimatedRows
	}

	warnings, requiresApproval := s.risk.Assess(ordered, totalRows)

	return &models.DeletionPlan{
		TablesToProcess:    ordered,
		TotalEstimatedRows: totalRows,
		Warnings:           warnings,
		RequiresApproval:   requiresApproval,
	}, nil
}

func (s *deletionService) Approve(ctx context.Context, requestID uuid.UUID, approver string) error {
	if _, err := s.pendingDeleteRequest(ctx, requestID, "approve"); err != nil {
		return err
	}

	if err := s.requests.SetApprover(ctx, requestID, approver); err != nil {
		return err
	}

	s.recordAudit(ctx, requestID, models.AuditActionApproved, approver,
		strPtr(models.StatusPending), strPtr(models.StatusPending), nil)

	s.logger.Info("delete request approved",
		zap.String("request_id", requestID.String()),
		zap.String("approver", approver))

	s.Resume(requestID)
	return nil
}

func (s *deletionService) Reject(ctx context.Context, requestID uuid.UUID, approver, reason string) error {
	req, err := s.pendingDeleteRequest(ctx, requestID, "reject")
	if err != nil {
		return err
	}

	metadata := cloneMetadata(req.Metadata)
	metadata[models.MetadataKeyRejection] = map[string]any{
		"rejected_by": approver,
		"reason":      reason,
		"rejected_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.requests.MarkFailed(ctx, requestID, metadata); err != nil {
		return err
	}

	s.recordAudit(ctx, requestID, models.AuditActionRejected, approver,
		strPtr(models.StatusPending), strPtr(models.StatusFailed),
		map[string]any{"reason": reason})

	s.logger.Info("delete request rejected",
		zap.String("request_id", requestID.String()),
		zap.String("approver", approver))

	return nil
}

// pendingDeleteRequest loads a request and verifies it is a pending delete.
// Requests of any other kind are invisible to the approval surface, so an
// export request can never be driven through delete processing by mistake.
func (s *deletionService) pendingDeleteRequest(ctx context.Context, requestID uuid.UUID, verb string) (*models.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Kind != models.RequestKindDelete {
		return nil, fmt.Errorf("delete request %s: %w", requestID, apperrors.ErrNotFound)
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("cannot %s request with status %q: %w", verb, req.Status, apperrors.ErrRequestNotPending)
	}
	return req, nil
}

func (s *deletionService) Process(ctx context.Context, requestID uuid.UUID) error {
	return s.process(ctx, requestID, s)
}

func (s *deletionService) GetDeletionStatus(ctx context.Context, requestID uuid.UUID) (*models.RequestStatus, error) {
	return s.statusForKind(ctx, requestID, models.RequestKindDelete)
}

func (s *deletionService) Resume(requestID uuid.UUID) {
	s.schedule("delete", requestID, func(ctx context.Context) error {
		return s.Process(ctx, requestID)
	})
}

// planItems materializes work items from the plan embedded at submission
// time. The stored deletion order is preserved.
func (s *deletionService) planItems(ctx context.Context, req *models.Request) ([]*models.RequestItem, error) {
	plan, err := decodeDeletionPlan(req)
	if err != nil {
		return nil, err
	}

	items := make([]*models.RequestItem, 0, len(plan.TablesToProcess))
	for _, table := range plan.TablesToProcess {
		items = append(items, &models.RequestItem{
			RequestID:      req.ID,
			DatabaseName:   table.DatabaseName,
			SchemaName:     table.SchemaName,
			TableName:      table.TableName,
			MatchedColumns: table.Columns,
		})
	}
	return items, nil
}

func (s *deletionService) executeItem(ctx context.Context, req *models.Request, item *models.RequestItem) (int64, map[string]any, error) {
	mode := warehouse.DeleteModeHard
	if raw, ok := req.Metadata[models.MetadataKeyDeleteMode].(string); ok && raw != "" {
		mode = warehouse.DeleteMode(raw)
	}

	target := warehouse.Target{
		DatabaseName: item.DatabaseName,
		SchemaName:   item.SchemaName,
		TableName:    item.TableName,
		Columns:      item.MatchedColumns,
	}

	rows, err := s.connector.DeleteRows(ctx, target, req.SubjectValue, mode)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to delete rows from %s: %w", item.QualifiedName(), err)
	}

	return rows, map[string]any{"mode": string(mode)}, nil
}

// decodeDeletionPlan recovers the typed plan from request metadata, which
// comes back from jsonb as generic maps.
func decodeDeletionPlan(req *models.Request) (*models.DeletionPlan, error) {
	raw, ok := req.Metadata[models.MetadataKeyDeletionPlan]
	if !ok {
		return nil, fmt.Errorf("request %s has no deletion plan", req.ID)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stored deletion plan: %w", err)
	}

	var plan models.DeletionPlan
	if err := json.Unmarshal(encoded, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode stored deletion plan: %w", err)
	}
	return &plan, nil
}
