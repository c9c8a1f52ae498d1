package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/dsr-engine/pkg/database"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

// RequestRepository provides data access for privacy requests.
type RequestRepository interface {
	// Create inserts a new request in pending status.
	Create(ctx context.Context, request *models.Request) error

	// GetByID returns a request by ID, or nil if it does not exist.
	GetByID(ctx context.Context, requestID uuid.UUID) (*models.Request, error)

	// List returns requests matching the filter, newest first.
	List(ctx context.Context, filter models.RequestFilter) ([]*models.Request, error)

	// Claim transitions a request from pending to processing. Returns false if
	// the request was not pending, which makes concurrent Process invocations
	// a no-op for all but one caller.
	Claim(ctx context.Context, requestID uuid.UUID) (bool, error)

	// SetApprover records the approver on a request.
	SetApprover(ctx context.Context, requestID uuid.UUID, approver string) error

	// UpdateMetadata replaces the metadata document.
	UpdateMetadata(ctx context.Context, requestID uuid.UUID, metadata map[string]any) error

	// MarkCompleted sets status=completed, stamps completed_at and stores the
	// final metadata document.
	MarkCompleted(ctx context.Context, requestID uuid.UUID, metadata map[string]any) error

	// MarkFailed sets status=failed and stores the final metadata document.
	MarkFailed(ctx context.Context, requestID uuid.UUID, metadata map[string]any) error

	// CancelPending transitions a request from pending to cancelled. Returns
	// false if the request was not pending.
	CancelPending(ctx context.Context, requestID uuid.UUID) (bool, error)

	// ListByStatusOlderThan returns requests in the given status whose
	// updated_at is before the cutoff. Used by the reconciliation sweep.
	ListByStatusOlderThan(ctx context.Context, status string, cutoff time.Time, limit int) ([]*models.Request, error)
}

type requestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) RequestRepository {
	return &requestRepository{db: db}
}

var _ RequestRepository = (*requestRepository)(nil)

const requestColumns = `
	id, kind, subject_type, subject_value, status, requested_by, assigned_to,
	reason, metadata, requested_at, completed_at, updated_at`

func (r *requestRepository) Create(ctx context.Context, request *models.Request) error {
	query := `
		INSERT INTO dsr_requests (
			kind, subject_type, subject_value, status, requested_by, reason, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, requested_at, updated_at`

	if request.Status == "" {
		request.Status = models.StatusPending
	}

	var reason *string
	if request.Reason != nil {
		reason = nullableString(*request.Reason)
	}

	err := r.db.QueryRow(ctx, query,
		request.Kind,
		request.SubjectType,
		request.SubjectValue,
		request.Status,
		request.RequestedBy,
		reason,
		jsonbValueMap(request.Metadata),
	).Scan(&request.ID, &request.RequestedAt, &request.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return nil
}

func (r *requestRepository) GetByID(ctx context.Context, requestID uuid.UUID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM dsr_requests WHERE id = $1`

	return scanRequest(r.db.QueryRow(ctx, query, requestID))
}

func (r *requestRepository) List(ctx context.Context, filter models.RequestFilter) ([]*models.Request, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + requestColumns + `
		FROM dsr_requests
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR subject_type = $2)
		  AND ($3 = '' OR requested_by = $3)
		ORDER BY requested_at DESC
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, filter.Status, filter.SubjectType, filter.RequestedBy, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func (r *requestRepository) Claim(ctx context.Context, requestID uuid.UUID) (bool, error) {
	query := `
		UPDATE dsr_requests
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query, requestID, models.StatusProcessing, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim request: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *requestRepository) SetApprover(ctx context.Context, requestID uuid.UUID, approver string) error {
	query := `UPDATE dsr_requests SET assigned_to = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, requestID, approver)
	if err != nil {
		return fmt.Errorf("failed to set approver: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s not found", requestID)
	}

	return nil
}

func (r *requestRepository) UpdateMetadata(ctx context.Context, requestID uuid.UUID, metadata map[string]any) error {
	query := `UPDATE dsr_requests SET metadata = $2, updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, requestID, jsonbValueMap(metadata))
	if err != nil {
		return fmt.Errorf("failed to update request metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s not found", requestID)
	}

	return nil
}

func (r *requestRepository) MarkCompleted(ctx context.Context, requestID uuid.UUID, metadata map[string]any) error {
	query := `
		UPDATE dsr_requests
		SET status = $2, metadata = $3, completed_at = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, requestID, models.StatusCompleted, jsonbValueMap(metadata))
	if err != nil {
		return fmt.Errorf("failed to mark request completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s not found", requestID)
	}

	return nil
}

func (r *requestRepository) MarkFailed(ctx context.Context, requestID uuid.UUID, metadata map[string]any) error {
	query := `
		UPDATE dsr_requests
		SET status = $2, metadata = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, requestID, models.StatusFailed, jsonbValueMap(metadata))
	if err != nil {
		return fmt.Errorf("failed to mark request failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s not found", requestID)
	}

	return nil
}

func (r *requestRepository) CancelPending(ctx context.Context, requestID uuid.UUID) (bool, error) {
	query := `
		UPDATE dsr_requests
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query, requestID, models.StatusCancelled, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel request: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *requestRepository) ListByStatusOlderThan(ctx context.Context, status string, cutoff time.Time, limit int) ([]*models.Request, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + requestColumns + `
		FROM dsr_requests
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests by status: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

// Helper functions

func scanRequests(rows pgx.Rows) ([]*models.Request, error) {
	var requests []*models.Request
	for rows.Next() {
		request, err := scanRequestFields(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}

	return requests, nil
}

func scanRequest(row pgx.Row) (*models.Request, error) {
	request, err := scanRequestFields(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return request, nil
}

func scanRequestFields(row pgx.Row) (*models.Request, error) {
	var req models.Request
	var metadata []byte

	err := row.Scan(
		&req.ID,
		&req.Kind,
		&req.SubjectType,
		&req.SubjectValue,
		&req.Status,
		&req.RequestedBy,
		&req.AssignedTo,
		&req.Reason,
		&metadata,
		&req.RequestedAt,
		&req.CompletedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &req.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request metadata: %w", err)
		}
	}

	return &req, nil
}
