package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/dsr-engine/pkg/database"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

// RequestItemRepository provides data access for per-table execution items.
type RequestItemRepository interface {
	// CreateBatch inserts all items of a request in one round trip. Slice
	// order is persisted as each item's 1-based position.
	CreateBatch(ctx context.Context, items []*models.RequestItem) error

	// ListByRequest returns all items of a request ordered by position.
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.RequestItem, error)

	// MarkProcessing sets an item to processing.
	MarkProcessing(ctx context.Context, itemID uuid.UUID) error

	// MarkCompleted records a successful execution with its affected row count.
	MarkCompleted(ctx context.Context, itemID uuid.UUID, affectedRows int64, resultData map[string]any) error

	// MarkFailed records a failed execution. The item keeps affected_rows = 0.
	MarkFailed(ctx context.Context, itemID uuid.UUID, errorMessage string) error

	// CancelPending sets all still-pending items of a request to cancelled.
	// Returns the number of items cancelled.
	CancelPending(ctx context.Context, requestID uuid.UUID) (int64, error)
}

type requestItemRepository struct {
	db *database.DB
}

// NewRequestItemRepository creates a new RequestItemRepository.
func NewRequestItemRepository(db *database.DB) RequestItemRepository {
	return &requestItemRepository{db: db}
}

var _ RequestItemRepository = (*requestItemRepository)(nil)

func (r *requestItemRepository) CreateBatch(ctx context.Context, items []*models.RequestItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO dsr_request_items (
			request_id, database_name, schema_name, table_name, position, matched_columns, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	batch := &pgx.Batch{}
	for i, item := range items {
		if item.Status == "" {
			item.Status = models.StatusPending
		}
		// The batch runs in one transaction, so every row shares the same
		// created_at; position is the only reliable ordering.
		item.Position = i + 1
		batch.Queue(query,
			item.RequestID,
			item.DatabaseName,
			item.SchemaName,
			item.TableName,
			item.Position,
			item.MatchedColumns,
			item.Status,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range items {
		err := results.QueryRow().Scan(&items[i].ID, &items[i].CreatedAt, &items[i].UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create request item %d: %w", i, err)
		}
	}

	return nil
}

func (r *requestItemRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.RequestItem, error) {
	query := `
		SELECT id, request_id, database_name, schema_name, table_name, position,
		       matched_columns, status, affected_rows, result_data, error_message,
		       processed_at, created_at, updated_at
		FROM dsr_request_items
		WHERE request_id = $1
		ORDER BY position ASC`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list request items: %w", err)
	}
	defer rows.Close()

	var items []*models.RequestItem
	for rows.Next() {
		item, err := scanRequestItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request items: %w", err)
	}

	return items, nil
}

func (r *requestItemRepository) MarkProcessing(ctx context.Context, itemID uuid.UUID) error {
	query := `
		UPDATE dsr_request_items
		SET status = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, itemID, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark item processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request item %s not found", itemID)
	}

	return nil
}

func (r *requestItemRepository) MarkCompleted(ctx context.Context, itemID uuid.UUID, affectedRows int64, resultData map[string]any) error {
	query := `
		UPDATE dsr_request_items
		SET status = $2, affected_rows = $3, result_data = COALESCE($4, '{}'::jsonb),
		    error_message = NULL, processed_at = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, itemID, models.StatusCompleted, affectedRows, jsonbValueMap(resultData))
	if err != nil {
		return fmt.Errorf("failed to mark item completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request item %s not found", itemID)
	}

	return nil
}

func (r *requestItemRepository) MarkFailed(ctx context.Context, itemID uuid.UUID, errorMessage string) error {
	query := `
		UPDATE dsr_request_items
		SET status = $2, affected_rows = 0, error_message = $3,
		    processed_at = now(), updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, itemID, models.StatusFailed, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request item %s not found", itemID)
	}

	return nil
}

func (r *requestItemRepository) CancelPending(ctx context.Context, requestID uuid.UUID) (int64, error) {
	query := `
		UPDATE dsr_request_items
		SET status = $2, updated_at = now()
		WHERE request_id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query, requestID, models.StatusCancelled, models.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending items: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanRequestItem(rows pgx.Rows) (*models.RequestItem, error) {
	var item models.RequestItem
	var resultData []byte

	err := rows.Scan(
		&item.ID,
		&item.RequestID,
		&item.DatabaseName,
		&item.SchemaName,
		&item.TableName,
		&item.Position,
		&item.MatchedColumns,
		&item.Status,
		&item.AffectedRows,
		&resultData,
		&item.ErrorMessage,
		&item.ProcessedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan request item: %w", err)
	}

	if len(resultData) > 0 && string(resultData) != "null" {
		if err := json.Unmarshal(resultData, &item.ResultData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item result_data: %w", err)
		}
	}

	return &item, nil
}
