package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/dsr-engine/pkg/database"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

// AuditRepository provides append-only access to the request audit log.
type AuditRepository interface {
	// Append writes one audit entry.
	Append(ctx context.Context, entry *models.AuditLogEntry) error

	// ListByRequest returns all audit entries for a request, oldest first.
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error)
}

type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO dsr_audit_log (request_id, action, actor, old_status, new_status, detail)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, '{}'::jsonb))
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		entry.RequestID,
		entry.Action,
		entry.Actor,
		entry.OldStatus,
		entry.NewStatus,
		jsonbValueMap(entry.Detail),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (r *auditRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, request_id, action, actor, old_status, new_status, detail, created_at
		FROM dsr_audit_log
		WHERE request_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		var entry models.AuditLogEntry
		var detail []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.Action,
			&entry.Actor,
			&entry.OldStatus,
			&entry.NewStatus,
			&detail,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if len(detail) > 0 && string(detail) != "null" {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
