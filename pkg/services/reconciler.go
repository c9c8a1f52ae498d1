package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/models"
	"github.com/ekaya-inc/dsr-engine/pkg/repositories"
)

const reconcileBatchSize = 50

// Reconciler is the periodic sweep that recovers from lost in-memory state.
// The queue is not durable, so after a crash two kinds of requests need
// attention: pending requests whose enqueue was lost, and processing requests
// whose worker died mid-run.
type Reconciler struct {
	requests  repositories.RequestRepository
	audit     repositories.AuditRepository
	exports   ExportService
	deletions DeletionService

	interval   time.Duration
	staleAfter time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// NewReconciler creates a Reconciler. interval is the sweep period and also
// the grace period before a pending request is considered stuck; staleAfter
// is how long a request may sit in processing before it is declared dead.
func NewReconciler(
	requests repositories.RequestRepository,
	audit repositories.AuditRepository,
	exports ExportService,
	deletions DeletionService,
	interval, staleAfter time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		requests:   requests,
		audit:      audit,
		exports:    exports,
		deletions:  deletions,
		interval:   interval,
		staleAfter: staleAfter,
		done:       make(chan struct{}),
		logger:     logger.Named("reconciler"),
	}
}

// Start launches the sweep loop in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("reconciler started",
			zap.Duration("interval", r.interval),
			zap.Duration("stale_after", r.staleAfter))

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("reconciler stopped")
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reconciler) sweep(ctx context.Context) {
	r.failStaleProcessing(ctx)
	r.resumeStuckPending(ctx)
}

// failStaleProcessing declares requests dead when they have sat in
// processing far longer than any run should take.
func (r *Reconciler) failStaleProcessing(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleAfter)
	stale, err := r.requests.ListByStatusOlderThan(ctx, models.StatusProcessing, cutoff, reconcileBatchSize)
	if err != nil {
		r.logger.Error("failed to list stale processing requests", zap.Error(err))
		return
	}

	for _, req := range stale {
		cause := fmt.Sprintf("processing stalled for more than %s", r.staleAfter)
		metadata := cloneMetadata(req.Metadata)
		metadata[models.MetadataKeyError] = cause

		if err := r.requests.MarkFailed(ctx, req.ID, metadata); err != nil {
			r.logger.Error("failed to fail stale request",
				zap.String("request_id", req.ID.String()),
				zap.Error(err))
			continue
		}

		entry := &models.AuditLogEntry{
			RequestID: req.ID,
			Action:    models.AuditActionFailed,
			Actor:     models.ActorSystem,
			OldStatus: strPtr(models.StatusProcessing),
			NewStatus: strPtr(models.StatusFailed),
			Detail:    map[string]any{"error": cause},
		}
		if err := r.audit.Append(ctx, entry); err != nil {
			r.logger.Error("failed to append audit entry",
				zap.String("request_id", req.ID.String()),
				zap.Error(err))
		}

		r.logger.Warn("failed stale processing request",
			zap.String("request_id", req.ID.String()),
			zap.Time("last_update", req.UpdatedAt))
	}
}

// resumeStuckPending re-enqueues pending requests that should have been
// picked up already. Requests waiting on approval or verification are
// legitimately pending and are left alone.
func (r *Reconciler) resumeStuckPending(ctx context.Context) {
	cutoff := time.Now().Add(-r.interval)
	pending, err := r.requests.ListByStatusOlderThan(ctx, models.StatusPending, cutoff, reconcileBatchSize)
	if err != nil {
		r.logger.Error("failed to list stuck pending requests", zap.Error(err))
		return
	}

	for _, req := range pending {
		if req.Kind == models.RequestKindDelete && awaitingApproval(req) {
			continue
		}

		r.logger.Info("re-enqueueing stuck pending request",
			zap.String("request_id", req.ID.String()),
			zap.String("kind", req.Kind))

		switch req.Kind {
		case models.RequestKindExport:
			r.exports.Resume(req.ID)
		case models.RequestKindDelete:
			r.deletions.Resume(req.ID)
		default:
			r.logger.Error("cannot resume request of unknown kind",
				zap.String("request_id", req.ID.String()),
				zap.String("kind", req.Kind))
		}
	}
}

// awaitingApproval reports whether a pending delete request is gated on a
// human decision rather than stuck.
func awaitingApproval(req *models.Request) bool {
	// A recorded approver means the gate was already cleared.
	if req.AssignedTo != nil {
		return false
	}
	if verification, ok := req.Metadata[models.MetadataKeyVerification].(bool); ok && verification {
		return true
	}
	if plan, ok := req.DeletionPlan(); ok {
		if approval, ok := plan["requires_approval"].(bool); ok && approval {
			return true
		}
	}
	return false
}
