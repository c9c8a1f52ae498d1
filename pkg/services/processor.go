package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/apperrors"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
	"github.com/ekaya-inc/dsr-engine/pkg/repositories"
	"github.com/ekaya-inc/dsr-engine/pkg/services/workqueue"
)

// requestExecutor supplies the kind-specific pieces of request processing.
// Everything else (claiming, item bookkeeping, partial-failure handling,
// terminal transitions, audit) is shared.
type requestExecutor interface {
	// planItems builds the per-table work items for a freshly claimed request.
	planItems(ctx context.Context, req *models.Request) ([]*models.RequestItem, error)

	// executeItem performs the warehouse work for one item and returns the
	// affected row count plus any result document to persist on the item.
	executeItem(ctx context.Context, req *models.Request, item *models.RequestItem) (int64, map[string]any, error)
}

// processor is the shared execution engine behind ExportService and
// DeletionService. One request is processed by at most one caller: the
// pending-to-processing claim is a compare-and-swap, so concurrent Process
// calls for the same request are no-ops for all but the winner.
type processor struct {
	requests repositories.RequestRepository
	items    repositories.RequestItemRepository
	audit    repositories.AuditRepository
	queue    *workqueue.Queue
	logger   *zap.Logger
}

func newProcessor(
	requests repositories.RequestRepository,
	items repositories.RequestItemRepository,
	audit repositories.AuditRepository,
	queue *workqueue.Queue,
	logger *zap.Logger,
) *processor {
	return &processor{
		requests: requests,
		items:    items,
		audit:    audit,
		queue:    queue,
		logger:   logger,
	}
}

// processTask adapts a request processing closure to the work queue.
type processTask struct {
	workqueue.BaseTask
	run func(ctx context.Context) error
}

func (t *processTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.run(ctx)
}

// schedule enqueues background processing of a request. Fire-and-forget:
// outcomes land on the request row, not on the caller.
func (p *processor) schedule(name string, requestID uuid.UUID, run func(ctx context.Context) error) {
	task := &processTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("%s %s", name, requestID)),
		run:      run,
	}
	p.queue.Enqueue(task)
}

// process drives one claimed request through all of its items sequentially.
// A failing item is recorded and skipped; the request still completes. Only
// orchestration-level errors (planning, persistence) fail the whole request,
// and they preserve whatever per-item progress was already recorded.
func (p *processor) process(ctx context.Context, requestID uuid.UUID, exec requestExecutor) error {
	claimed, err := p.requests.Claim(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to claim request %s: %w", requestID, err)
	}
	if !claimed {
		p.logger.Info("request not pending, skipping processing",
			zap.String("request_id", requestID.String()))
		return nil
	}

	p.recordAudit(ctx, requestID, models.AuditActionStarted, models.ActorSystem,
		strPtr(models.StatusPending), strPtr(models.StatusProcessing), nil)

	req, err := p.requests.GetByID(ctx, requestID)
	if err != nil {
		return p.failRequest(ctx, requestID, nil, fmt.Errorf("failed to load request: %w", err))
	}
	if req == nil {
		return fmt.Errorf("request %s vanished after claim", requestID)
	}

	items, err := p.items.ListByRequest(ctx, requestID)
	if err != nil {
		return p.failRequest(ctx, requestID, req.Metadata, fmt.Errorf("failed to load request items: %w", err))
	}
	if len(items) == 0 {
		items, err = exec.planItems(ctx, req)
		if err != nil {
			return p.failRequest(ctx, requestID, req.Metadata, fmt.Errorf("failed to plan request items: %w", err))
		}
		if err := p.items.CreateBatch(ctx, items); err != nil {
			return p.failRequest(ctx, requestID, req.Metadata, err)
		}
	}

	var completed, failed int
	var affectedRows int64

	for _, item := range items {
		if item.Status == models.StatusCompleted {
			completed++
			affectedRows += item.AffectedRows
			continue
		}
		if item.Status == models.StatusFailed || item.Status == models.StatusCancelled {
			failed++
			continue
		}
		if err := ctx.Err(); err != nil {
			return p.failRequest(ctx, requestID, req.Metadata, err)
		}

		if err := p.items.MarkProcessing(ctx, item.ID); err != nil {
			return p.failRequest(ctx, requestID, req.Metadata, err)
		}

		rows, result, err := exec.executeItem(ctx, req, item)
		if err != nil {
			failed++
			p.logger.Warn("item execution failed, continuing with remaining tables",
				zap.String("request_id", requestID.String()),
				zap.String("table", item.QualifiedName()),
				zap.Error(err))
			if markErr := p.items.MarkFailed(ctx, item.ID, err.Error()); markErr != nil {
				return p.failRequest(ctx, requestID, req.Metadata, markErr)
			}
			continue
		}

		completed++
		affectedRows += rows
		if err := p.items.MarkCompleted(ctx, item.ID, rows, result); err != nil {
			return p.failRequest(ctx, requestID, req.Metadata, err)
		}
	}

	summary := map[string]any{
		"total_tables":     len(items),
		"completed_tables": completed,
		"failed_tables":    failed,
		"affected_rows":    affectedRows,
	}
	metadata := cloneMetadata(req.Metadata)
	metadata[models.MetadataKeyResultSummary] = summary

	if err := p.requests.MarkCompleted(ctx, requestID, metadata); err != nil {
		// Leaving the request in processing would strand it until the stale
		// sweep; fail it now so callers see a terminal state.
		return p.failRequest(ctx, requestID, req.Metadata, fmt.Errorf("failed to mark request completed: %w", err))
	}

	p.recordAudit(ctx, requestID, models.AuditActionCompleted, models.ActorSystem,
		strPtr(models.StatusProcessing), strPtr(models.StatusCompleted), summary)

	p.logger.Info("request processed",
		zap.String("request_id", requestID.String()),
		zap.Int("total_tables", len(items)),
		zap.Int("completed_tables", completed),
		zap.Int("failed_tables", failed),
		zap.Int64("affected_rows", affectedRows))

	return nil
}

// failRequest records an orchestration failure on the request and returns the
// original cause. Per-item results written so far stay in place.
func (p *processor) failRequest(ctx context.Context, requestID uuid.UUID, metadata map[string]any, cause error) error {
	failed := cloneMetadata(metadata)
	failed[models.MetadataKeyError] = cause.Error()

	if err := p.requests.MarkFailed(ctx, requestID, failed); err != nil {
		p.logger.Error("failed to record request failure",
			zap.String("request_id", requestID.String()),
			zap.Error(err))
	}

	p.recordAudit(ctx, requestID, models.AuditActionFailed, models.ActorSystem,
		strPtr(models.StatusProcessing), strPtr(models.StatusFailed),
		map[string]any{"error": cause.Error()})

	return cause
}

// statusForKind builds the point-in-time status view for one request,
// rejecting lookups through the wrong kind's surface.
func (p *processor) statusForKind(ctx context.Context, requestID uuid.UUID, kind string) (*models.RequestStatus, error) {
	req, err := p.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Kind != kind {
		return nil, fmt.Errorf("%s request %s: %w", kind, requestID, apperrors.ErrNotFound)
	}

	items, err := p.items.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	status := &models.RequestStatus{
		Request:  req,
		Items:    items,
		Progress: models.ComputeProgress(items),
	}
	if kind == models.RequestKindDelete {
		for _, item := range items {
			if item.Status == models.StatusCompleted {
				status.DeletedRows += item.AffectedRows
			}
		}
	}
	return status, nil
}

// recordAudit appends an audit entry. Audit writes are best effort; a failed
// append is logged but never blocks the request lifecycle.
func (p *processor) recordAudit(ctx context.Context, requestID uuid.UUID, action, actor string, oldStatus, newStatus *string, detail map[string]any) {
	entry := &models.AuditLogEntry{
		RequestID: requestID,
		Action:    action,
		Actor:     actor,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Detail:    detail,
	}
	if err := p.audit.Append(ctx, entry); err != nil {
		p.logger.Error("failed to append audit entry",
			zap.String("request_id", requestID.String()),
			zap.String("action", action),
			zap.Error(err))
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	cloned := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		cloned[k] = v
	}
	return cloned
}

func strPtr(s string) *string {
	return &s
}
