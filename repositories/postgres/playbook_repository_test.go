package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func samplePlaybook() *models.Playbook {
	pb := models.NewPlaybook(uuid.New(), "trade-break", "standard remediation")
	for i, action := range []models.ActionType{models.ActionTypeNotify, models.ActionTypeAddComment} {
		pb.Steps = append(pb.Steps, &models.PlaybookStep{
			ID:         uuid.New(),
			PlaybookID: pb.ID,
			StepOrder:  i + 1,
			ActionType: action,
			Params:     []byte(`{}`),
			CreatedAt:  time.Now(),
		})
	}
	return pb
}

func TestPlaybookCreateCommitsRowAndSteps(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPlaybookRepository(db, zap.NewNop())
	tm := NewTransactionManager(db, zap.NewNop())
	pb := samplePlaybook()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO playbooks`).
		WithArgs(pb.ID, pb.TenantID, pb.Name, pb.Description, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, step := range pb.Steps {
		mock.ExpectExec(`INSERT INTO playbook_steps`).
			WithArgs(step.ID, step.PlaybookID, step.StepOrder, step.ActionType, []byte(step.Params), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := tm.InTransaction(context.Background(), func(ctx context.Context, _ repositories.Transaction) error {
		return repo.Create(ctx, pb)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaybookCreateRollsBackOnStepFailure(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPlaybookRepository(db, zap.NewNop())
	tm := NewTransactionManager(db, zap.NewNop())
	pb := samplePlaybook()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO playbooks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO playbook_steps`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO playbook_steps`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := tm.InTransaction(context.Background(), func(ctx context.Context, _ repositories.Transaction) error {
		return repo.Create(ctx, pb)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert playbook step 2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaybookReorderStepsCommitsFullRewrite(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPlaybookRepository(db, zap.NewNop())
	tm := NewTransactionManager(db, zap.NewNop())
	pb := samplePlaybook()
	ordered := []uuid.UUID{pb.Steps[1].ID, pb.Steps[0].ID}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE playbook_steps SET step_order = step_order`).
		WithArgs(pb.ID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	for i, stepID := range ordered {
		mock.ExpectExec(`UPDATE playbook_steps SET step_order = \$1`).
			WithArgs(i+1, stepID, pb.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`UPDATE playbooks SET updated_at`).
		WithArgs(sqlmock.AnyArg(), pb.ID, pb.TenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tm.InTransaction(context.Background(), func(ctx context.Context, _ repositories.Transaction) error {
		return repo.ReorderSteps(ctx, pb.TenantID, pb.ID, ordered)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaybookReorderStepsRollsBackOnUnknownStep(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPlaybookRepository(db, zap.NewNop())
	tm := NewTransactionManager(db, zap.NewNop())
	pb := samplePlaybook()
	ordered := []uuid.UUID{pb.Steps[1].ID, pb.Steps[0].ID}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE playbook_steps SET step_order = step_order`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE playbook_steps SET step_order = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := tm.InTransaction(context.Background(), func(ctx context.Context, _ repositories.Transaction) error {
		return repo.ReorderSteps(ctx, pb.TenantID, pb.ID, ordered)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in playbook")
	require.NoError(t, mock.ExpectationsWereMet())
}
