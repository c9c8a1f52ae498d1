package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/dsr-engine/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dsr-engine/pkg/catalog"
	"github.com/ekaya-inc/dsr-engine/pkg/models"
	"github.com/ekaya-inc/dsr-engine/pkg/repositories"
)

// In-memory doubles for the persistence and warehouse boundaries. They keep
// the same contracts as the real implementations (CAS claim semantics,
// position-ordered item listing) so lifecycle tests exercise real behavior.

type fakeRequestRepo struct {
	mu               sync.Mutex
	requests         map[uuid.UUID]*models.Request
	markCompletedErr error
}

var _ repositories.RequestRepository = (*fakeRequestRepo)(nil)

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: make(map[uuid.UUID]*models.Request)}
}

func (r *fakeRequestRepo) Create(_ context.Context, request *models.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	request.ID = uuid.New()
	if request.Status == "" {
		request.Status = models.StatusPending
	}
	now := time.Now()
	request.RequestedAt = now
	request.UpdatedAt = now

	stored := *request
	r.requests[request.ID] = &stored
	return nil
}

func (r *fakeRequestRepo) GetByID(_ context.Context, requestID uuid.UUID) (*models.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return nil, nil
	}
	copied := *req
	return &copied, nil
}

func (r *fakeRequestRepo) List(_ context.Context, filter models.RequestFilter) ([]*models.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Request
	for _, req := range r.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.SubjectType != "" && req.SubjectType != filter.SubjectType {
			continue
		}
		if filter.RequestedBy != "" && req.RequestedBy != filter.RequestedBy {
			continue
		}
		copied := *req
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeRequestRepo) Claim(_ context.Context, requestID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok || req.Status != models.StatusPending {
		return false, nil
	}
	req.Status = models.StatusProcessing
	req.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeRequestRepo) SetApprover(_ context.Context, requestID uuid.UUID, approver string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s not found", requestID)
	}
	req.AssignedTo = &approver
	req.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRequestRepo) UpdateMetadata(_ context.Context, requestID uuid.UUID, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s not found", requestID)
	}
	req.Metadata = metadata
	req.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRequestRepo) MarkCompleted(_ context.Context, requestID uuid.UUID, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markCompletedErr != nil {
		return r.markCompletedErr
	}

	req, ok := r.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s not found", requestID)
	}
	now := time.Now()
	req.Status = models.StatusCompleted
	req.Metadata = metadata
	req.CompletedAt = &now
	req.UpdatedAt = now
	return nil
}

func (r *fakeRequestRepo) MarkFailed(_ context.Context, requestID uuid.UUID, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return fmt.Errorf("request %s not found", requestID)
	}
	req.Status = models.StatusFailed
	req.Metadata = metadata
	req.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRequestRepo) CancelPending(_ context.Context, requestID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok || req.Status != models.StatusPending {
		return false, nil
	}
	req.Status = models.StatusCancelled
	req.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeRequestRepo) ListByStatusOlderThan(_ context.Context, status string, cutoff time.Time, limit int) ([]*models.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Request
	for _, req := range r.requests {
		if req.Status != status || !req.UpdatedAt.Before(cutoff) {
			continue
		}
		copied := *req
		out = append(out, &copied)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeItemRepo struct {
	mu    sync.Mutex
	items []*models.RequestItem
}

var _ repositories.RequestItemRepository = (*fakeItemRepo)(nil)

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{}
}

func (r *fakeItemRepo) CreateBatch(_ context.Context, items []*models.RequestItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for i, item := range items {
		item.ID = uuid.New()
		if item.Status == "" {
			item.Status = models.StatusPending
		}
		item.Position = i + 1
		item.CreatedAt = now
		item.UpdatedAt = now
		stored := *item
		r.items = append(r.items, &stored)
	}
	return nil
}

func (r *fakeItemRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*models.RequestItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.RequestItem
	for _, item := range r.items {
		if item.RequestID == requestID {
			copied := *item
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *fakeItemRepo) MarkProcessing(_ context.Context, itemID uuid.UUID) error {
	return r.update(itemID, func(item *models.RequestItem) {
		item.Status = models.StatusProcessing
	})
}

func (r *fakeItemRepo) MarkCompleted(_ context.Context, itemID uuid.UUID, affectedRows int64, resultData map[string]any) error {
	return r.update(itemID, func(item *models.RequestItem) {
		now := time.Now()
		item.Status = models.StatusCompleted
		item.AffectedRows = affectedRows
		item.ResultData = resultData
		item.ErrorMessage = nil
		item.ProcessedAt = &now
	})
}

func (r *fakeItemRepo) MarkFailed(_ context.Context, itemID uuid.UUID, errorMessage string) error {
	return r.update(itemID, func(item *models.RequestItem) {
		now := time.Now()
		item.Status = models.StatusFailed
		item.AffectedRows = 0
		item.ErrorMessage = &errorMessage
		item.ProcessedAt = &now
	})
}

func (r *fakeItemRepo) CancelPending(_ context.Context, requestID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, item := range r.items {
		if item.RequestID == requestID && item.Status == models.StatusPending {
			item.Status = models.StatusCancelled
			count++
		}
	}
	return count, nil
}

func (r *fakeItemRepo) update(itemID uuid.UUID, apply func(*models.RequestItem)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range r.items {
		if item.ID == itemID {
			apply(item)
			item.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("request item %s not found", itemID)
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

var _ repositories.AuditRepository = (*fakeAuditRepo)(nil)

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (r *fakeAuditRepo) Append(_ context.Context, entry *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	stored := *entry
	r.entries = append(r.entries, &stored)
	return nil
}

func (r *fakeAuditRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditLogEntry
	for _, entry := range r.entries {
		if entry.RequestID == requestID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) actions(requestID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, entry := range r.entries {
		if entry.RequestID == requestID {
			out = append(out, entry.Action)
		}
	}
	return out
}

type fakeCatalog struct {
	tables     []catalog.Table
	columns    map[string][]catalog.Column
	fks        map[string][]catalog.ForeignKey
	columnsErr map[string]error
}

var _ catalog.Reader = (*fakeCatalog)(nil)

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		columns:    make(map[string][]catalog.Column),
		fks:        make(map[string][]catalog.ForeignKey),
		columnsErr: make(map[string]error),
	}
}

func (c *fakeCatalog) addTable(db, schema, table string, rowCount int64, columns ...catalog.Column) catalog.TableRef {
	ref := catalog.TableRef{DatabaseName: db, SchemaName: schema, TableName: table}
	c.tables = append(c.tables, catalog.Table{TableRef: ref, RowCount: rowCount})
	c.columns[ref.QualifiedName()] = columns
	return ref
}

func (c *fakeCatalog) addForeignKey(from catalog.TableRef, constraint string, to catalog.TableRef) {
	c.fks[from.QualifiedName()] = append(c.fks[from.QualifiedName()], catalog.ForeignKey{
		ConstraintName: constraint,
		Referenced:     to,
	})
}

func (c *fakeCatalog) ListTables(_ context.Context) ([]catalog.Table, error) {
	return c.tables, nil
}

func (c *fakeCatalog) ListColumns(_ context.Context, ref catalog.TableRef) ([]catalog.Column, error) {
	if err := c.columnsErr[ref.QualifiedName()]; err != nil {
		return nil, err
	}
	return c.columns[ref.QualifiedName()], nil
}

func (c *fakeCatalog) ListForeignKeys(_ context.Context, ref catalog.TableRef) ([]catalog.ForeignKey, error) {
	return c.fks[ref.QualifiedName()], nil
}

type fakeConnector struct {
	mu          sync.Mutex
	rows        map[string]int64
	estimateErr map[string]error
	deleteErr   map[string]error
	exportErr   map[string]error
	deleted     []string
	exported    []string
}

var _ warehouse.Connector = (*fakeConnector)(nil)

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		rows:        make(map[string]int64),
		estimateErr: make(map[string]error),
		deleteErr:   make(map[string]error),
		exportErr:   make(map[string]error),
	}
}

func qualified(target warehouse.Target) string {
	return target.DatabaseName + "." + target.SchemaName + "." + target.TableName
}

func (c *fakeConnector) EstimateRows(_ context.Context, target warehouse.Target, _ string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := qualified(target)
	if err := c.estimateErr[name]; err != nil {
		return 0, err
	}
	return c.rows[name], nil
}

func (c *fakeConnector) ExportRows(_ context.Context, target warehouse.Target, subjectValue string) (*warehouse.ExportResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := qualified(target)
	if err := c.exportErr[name]; err != nil {
		return nil, err
	}

	c.exported = append(c.exported, name)
	count := c.rows[name]
	rows := make([]map[string]any, count)
	for i := range rows {
		rows[i] = map[string]any{target.Columns[0]: subjectValue}
	}
	return &warehouse.ExportResult{
		Columns:  target.Columns,
		Rows:     rows,
		RowCount: count,
	}, nil
}

func (c *fakeConnector) DeleteRows(_ context.Context, target warehouse.Target, _ string, _ warehouse.DeleteMode) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := qualified(target)
	if err := c.deleteErr[name]; err != nil {
		return 0, err
	}

	c.deleted = append(c.deleted, name)
	count := c.rows[name]
	c.rows[name] = 0
	return count, nil
}

func (c *fakeConnector) Close() error { return nil }

func (c *fakeConnector) deletedTables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}
