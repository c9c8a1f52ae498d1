package models

import (
	"time"

	"github.com/google/uuid"
)

// Request kind constants.
const (
	RequestKindExport = "export"
	RequestKindDelete = "delete"
)

// Request status constants. Items share the same vocabulary.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Metadata keys used inside Request.Metadata.
const (
	MetadataKeyDeletionPlan  = "deletion_plan"
	MetadataKeyDeleteMode    = "delete_mode"
	MetadataKeyVerification  = "verification_required"
	MetadataKeyResultSummary = "result_summary"
	MetadataKeyRejection     = "rejection"
	MetadataKeyError         = "error"
)

// Request represents one data-subject-rights case (export or delete).
type Request struct {
	ID           uuid.UUID      `json:"id"`
	Kind         string         `json:"kind"`
	SubjectType  string         `json:"subject_type"`
	SubjectValue string         `json:"subject_value"`
	Status       string         `json:"status"`
	RequestedBy  string         `json:"requested_by"`
	AssignedTo   *string        `json:"assigned_to,omitempty"`
	Reason       *string        `json:"reason,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	RequestedAt  time.Time      `json:"requested_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the request has reached a final state.
func (r *Request) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// DeletionPlan returns the stored plan for delete requests, or nil if absent.
func (r *Request) DeletionPlan() (map[string]any, bool) {
	if r.Metadata == nil {
		return nil, false
	}
	plan, ok := r.Metadata[MetadataKeyDeletionPlan].(map[string]any)
	return plan, ok
}

// RequestFilter narrows ListRequests queries. Zero values mean "no filter".
type RequestFilter struct {
	Status      string
	SubjectType string
	RequestedBy string
	Limit       int
}

// Progress summarizes item completion for one request.
type Progress struct {
	TotalItems     int `json:"total_items"`
	CompletedItems int `json:"completed_items"`
	FailedItems    int `json:"failed_items"`
	Percentage     int `json:"percentage"`
}

// RequestStatus is the point-in-time view returned by GetStatus.
type RequestStatus struct {
	Request     *Request       `json:"request"`
	Items       []*RequestItem `json:"items"`
	Progress    Progress       `json:"progress"`
	DeletedRows int64          `json:"deleted_rows,omitempty"`
}

// ComputeProgress derives a Progress block from a set of items.
// An empty item set yields 0 percent, not a division error.
func ComputeProgress(items []*RequestItem) Progress {
	p := Progress{TotalItems: len(items)}
	for _, item := range items {
		switch item.Status {
		case StatusCompleted:
			p.CompletedItems++
		case StatusFailed:
			p.FailedItems++
		}
	}
	if p.TotalItems > 0 {
		p.Percentage = int(float64(p.CompletedItems)/float64(p.TotalItems)*100 + 0.5)
	}
	return p
}
