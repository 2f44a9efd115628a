package playbook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/opshub/exception-plane/repositories/memory"
	"github.com/opshub/exception-plane/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDefinitionFixture(t *testing.T) (*DefinitionService, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	return NewDefinitionService(store.Repositories().Playbooks, store.TransactionManager(), zap.NewNop()), uuid.New()
}

func TestCreateAssignsDenseStepOrders(t *testing.T) {
	defs, tenantID := newDefinitionFixture(t)
	ctx := context.Background()

	pb, err := defs.Create(ctx, tenantID, "trade-break", "standard remediation", []StepInput{
		{ActionType: models.ActionTypeNotify},
		{ActionType: models.ActionTypeAddComment, Params: json.RawMessage(`{"template":"triage"}`)},
		{ActionType: models.ActionTypeCallTool, Params: json.RawMessage(`{"tool":"resettle"}`)},
	})
	require.NoError(t, err)
	require.Len(t, pb.Steps, 3)
	for i, step := range pb.Steps {
		assert.Equal(t, i+1, step.StepOrder)
		assert.Equal(t, pb.ID, step.PlaybookID)
	}

	loaded, err := defs.Get(ctx, tenantID, pb.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 3)
	assert.Equal(t, models.ActionTypeCallTool, loaded.Steps[2].ActionType)
}

func TestCreateValidation(t *testing.T) {
	defs, tenantID := newDefinitionFixture(t)
	ctx := context.Background()

	_, err := defs.Create(ctx, tenantID, "", "", []StepInput{{ActionType: models.ActionTypeNotify}})
	assert.ErrorIs(t, err, services.ErrInvalidInput)

	_, err = defs.Create(ctx, tenantID, "empty", "", nil)
	assert.ErrorIs(t, err, services.ErrPlaybookNoSteps)
}

func TestGetScopedToTenant(t *testing.T) {
	defs, tenantID := newDefinitionFixture(t)
	ctx := context.Background()

	pb, err := defs.Create(ctx, tenantID, "trade-break", "", []StepInput{{ActionType: models.ActionTypeNotify}})
	require.NoError(t, err)

	_, err = defs.Get(ctx, uuid.New(), pb.ID)
	assert.ErrorIs(t, err, services.ErrPlaybookNotFound)
}

func TestReorderFullPermutation(t *testing.T) {
	defs, tenantID := newDefinitionFixture(t)
	ctx := context.Background()

	pb, err := defs.Create(ctx, tenantID, "trade-break", "", []StepInput{
		{ActionType: models.ActionTypeNotify},
		{ActionType: models.ActionTypeAddComment},
		{ActionType: models.ActionTypeSetStatus},
	})
	require.NoError(t, err)

	reversed := []uuid.UUID{pb.Steps[2].ID, pb.Steps[1].ID, pb.Steps[0].ID}
	reordered, err := defs.Reorder(ctx, tenantID, pb.ID, reversed)
	require.NoError(t, err)
	require.Len(t, reordered.Steps, 3)
	assert.Equal(t, models.ActionTypeSetStatus, reordered.Steps[0].ActionType)
	assert.Equal(t, models.ActionTypeNotify, reordered.Steps[2].ActionType)
	for i, step := range reordered.Steps {
		assert.Equal(t, i+1, step.StepOrder)
	}
}

func TestReorderRejectsPartialPermutations(t *testing.T) {
	defs, tenantID := newDefinitionFixture(t)
	ctx := context.Background()

	pb, err := defs.Create(ctx, tenantID, "trade-break", "", []StepInput{
		{ActionType: models.ActionTypeNotify},
		{ActionType: models.ActionTypeAddComment},
	})
	require.NoError(t, err)

	// Too few ids.
	_, err = defs.Reorder(ctx, tenantID, pb.ID, []uuid.UUID{pb.Steps[0].ID})
	assert.ErrorIs(t, err, services.ErrIncompleteReorder)

	// Duplicate id.
	_, err = defs.Reorder(ctx, tenantID, pb.ID, []uuid.UUID{pb.Steps[0].ID, pb.Steps[0].ID})
	assert.ErrorIs(t, err, services.ErrIncompleteReorder)

	// Foreign id.
	_, err = defs.Reorder(ctx, tenantID, pb.ID, []uuid.UUID{pb.Steps[0].ID, uuid.New()})
	assert.ErrorIs(t, err, services.ErrIncompleteReorder)
}

// countingTxManager wraps a transaction manager and counts InTransaction calls.
type countingTxManager struct {
	repositories.TransactionManager
	calls int
}

func (m *countingTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	m.calls++
	return m.TransactionManager.InTransaction(ctx, fn)
}

func TestCreateAndReorderRunInTransaction(t *testing.T) {
	store := memory.NewStore()
	tm := &countingTxManager{TransactionManager: store.TransactionManager()}
	defs := NewDefinitionService(store.Repositories().Playbooks, tm, zap.NewNop())
	tenantID := uuid.New()
	ctx := context.Background()

	pb, err := defs.Create(ctx, tenantID, "trade-break", "", []StepInput{
		{ActionType: models.ActionTypeNotify},
		{ActionType: models.ActionTypeAddComment},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tm.calls)

	_, err = defs.Reorder(ctx, tenantID, pb.ID, []uuid.UUID{pb.Steps[1].ID, pb.Steps[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 2, tm.calls)
}
