package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/dsr-engine/pkg/apperrors"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
	"github.com/ekaya-inc/dsr-engine/pkg/repositories"
)

// RequestService answers status and lifecycle questions that are common to
// both request kinds.
type RequestService interface {
	// GetStatus returns the request with its items and derived progress.
	// Returns apperrors.ErrNotFound if the request does not exist.
	GetStatus(ctx context.Context, requestID uuid.UUID) (*models.RequestStatus, error)

	// ListRequests returns requests matching the filter, newest first.
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.Request, error)

	// Cancel withdraws a pending request and cancels its pending items.
	// Requests that already started processing cannot be cancelled.
	Cancel(ctx context.Context, requestID uuid.UUID, actor string) error

	// GetAuditTrail returns the request's audit entries, oldest first.
	GetAuditTrail(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error)
}

type requestService struct {
	requests repositories.RequestRepository
	items    repositories.RequestItemRepository
	audit    repositories.AuditRepository
	logger   *zap.Logger
}

var _ RequestService = (*requestService)(nil)

// NewRequestService creates a RequestService.
func NewRequestService(
	requests repositories.RequestRepository,
	items repositories.RequestItemRepository,
	audit repositories.AuditRepository,
	logger *zap.Logger,
) RequestService {
	return &requestService{
		requests: requests,
		items:    items,
		audit:    audit,
		logger:   logger.Named("requests"),
	}
}

func (s *requestService) GetStatus(ctx context.Context, requestID uuid.UUID) (*models.RequestStatus, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("request %s: %w", requestID, apperrors.ErrNotFound)
	}

	items, err := s.items.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	status := &models.RequestStatus{
		Request:  req,
		Items:    items,
		Progress: models.ComputeProgress(items),
	}

	if req.Kind == models.RequestKindDelete {
		for _, item := range items {
			if item.Status == models.StatusCompleted {
				status.DeletedRows += item.AffectedRows
			}
		}
	}

	return status, nil
}

func (s *requestService) ListRequests(ctx context.Context, filter models.RequestFilter) ([]*models.Request, error) {
	return s.requests.List(ctx, filter)
}

func (s *requestService) Cancel(ctx context.Context, requestID uuid.UUID, actor string) error {
	cancelled, err := s.requests.CancelPending(ctx, requestID)
	if err != nil {
		return err
	}
	if !cancelled {
		req, err := s.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return fmt.Errorf("request %s: %w", requestID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("cannot cancel request with status %q: %w", req.Status, apperrors.ErrRequestNotPending)
	}

	itemsCancelled, err := s.items.CancelPending(ctx, requestID)
	if err != nil {
		return err
	}

	entry := &models.AuditLogEntry{
		RequestID: requestID,
		Action:    models.AuditActionCancelled,
		Actor:     actor,
		OldStatus: strPtr(models.StatusPending),
		NewStatus: strPtr(models.StatusCancelled),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry",
			zap.String("request_id", requestID.String()),
			zap.Error(err))
	}

	s.logger.Info("request cancelled",
		zap.String("request_id", requestID.String()),
		zap.String("actor", actor),
		zap.Int64("items_cancelled", itemsCancelled))

	return nil
}

func (s *requestService) GetAuditTrail(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error) {
	return s.audit.ListByRequest(ctx, requestID)
}
