package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/dsr-engine/pkg/models"
)

func newReconciler(t *testing.T, env *testEnv) *Reconciler {
	t.Helper()
	return NewReconciler(env.requests, env.audit, env.exports, env.deletions,
		time.Minute, 2*time.Hour, zaptest.NewLogger(t))
}

// backdate pushes a stored request's updated_at into the past so the sweep
// cutoffs see it.
func backdate(env *testEnv, req *models.Request, age time.Duration) {
	env.requests.mu.Lock()
	defer env.requests.mu.Unlock()
	env.requests.requests[req.ID].UpdatedAt = time.Now().Add(-age)
}

func TestReconciler_FailsStaleProcessingRequests(t *testing.T) {
	cat, conn := usersOrdersCatalog()
	env := newTestEnv(t, cat, conn)
	r := newReconciler(t, env)

	req := &models.Request{
		Kind:         models.RequestKindExport,
		SubjectType:  "email",
		SubjectValue: "alice@example.com",
		Status:       models.StatusProcessing,
		RequestedBy:  "dpo@corp.example",
	}
	require.NoError(t, env.requests.Create(context.Background(), req))
	backdate(env, req, 3*time.Hour)

	r.sweep(context.Background())

	stored, err := env.requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Contains(t, stored.Metadata[models.MetadataKeyError], "processing stalled")
	assert.Contains(t, env.audit.actions(req.ID), models.AuditActionFailed)
}

func TestReconciler_LeavesFreshProcessingAlone(t *testing.T) {
	cat, conn := usersOrdersCatalog()
	env := newTestEnv(t, cat, conn)
	r := newReconciler(t, env)

	req := &models.Request{
		Kind:         models.RequestKindExport,
		SubjectType:  "email",
		SubjectValue: "alice@example.com",
		Status:       models.StatusProcessing,
		RequestedBy:  "dpo@corp.example",
	}
	require.NoError(t, env.requests.Create(context.Background(), req))

	r.sweep(context.Background())

	stored, err := env.requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)
}

func TestReconciler_ResumesStuckPendingExport(t *testing.T) {
	cat, conn := usersOrdersCatalog()
	env := newTestEnv(t, cat, conn)
	r := newReconciler(t, env)

	req := &models.Request{
		Kind:         models.RequestKindExport,
		SubjectType:  "email",
		SubjectValue: "alice@example.com",
		Status:       models.StatusPending,
		RequestedBy:  "dpo@corp.example",
	}
	require.NoError(t, env.requests.Create(context.Background(), req))
	backdate(env, req, 10*time.Minute)

	r.sweep(context.Background())
	waitForQueue(t, env)

	stored, err := env.requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestReconciler_LeavesApprovalGatedDeleteAlone(t *testing.T) {
	cat, conn := usersOrdersCatalog()
	env := newTestEnv(t, cat, conn)
	r := newReconciler(t, env)

	req, err := env.deletions.CreateDeletionRequest(context.Background(), DeletionRequestParams{
		SubjectType:  "email",
		SubjectValue: "alice@example.com",
		RequestedBy:  "dpo@corp.example",
	})
	require.NoError(t, err)
	backdate(env, req, 10*time.Minute)

	r.sweep(context.Background())
	waitForQueue(t, env)

	stored, err := env.requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Empty(t, env.connector.deletedTables())
}

func TestReconciler_StartStop(t *testing.T) {
	cat, conn := usersOrdersCatalog()
	env := newTestEnv(t, cat, conn)
	r := NewReconciler(env.requests, env.audit, env.exports, env.deletions,
		10*time.Millisecond, time.Hour, zaptest.NewLogger(t))

	r.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	r.Stop()
}
