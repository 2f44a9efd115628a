package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcessingRepositoryGetMissingReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProcessingRepository(db, zap.NewNop())
	eventID := uuid.New()

	mock.ExpectQuery(`SELECT event_id, worker_kind`).
		WithArgs(eventID, "notifier").
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))

	entry, err := repo.Get(context.Background(), eventID, "notifier")
	require.NoError(t, err)
	assert.Nil(t, entry, "missing ledger entry is nil, not an error")
}

func TestProcessingRepositoryMarkFailedUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProcessingRepository(db, zap.NewNop())
	eventID := uuid.New()
	next := time.Now().Add(2 * time.Second)

	mock.ExpectExec(`INSERT INTO event_processing`).
		WithArgs(eventID, "notifier", 3, "smtp timeout", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFailed(context.Background(), eventID, "notifier", 3, "smtp timeout", &next)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessingRepositoryListDue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProcessingRepository(db, zap.NewNop())
	now := time.Now()
	due := now.Add(-time.Second)

	rows := sqlmock.NewRows([]string{
		"event_id", "worker_kind", "status", "retry_count", "error_message", "next_attempt_at", "created_at", "updated_at",
	}).AddRow(uuid.New(), "notifier", "failed", 1, "smtp timeout", due, now, now)

	mock.ExpectQuery(`SELECT event_id, worker_kind`).
		WithArgs(now, 100).
		WillReturnRows(rows)

	entries, err := repo.ListDue(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notifier", entries[0].WorkerKind)
	assert.Equal(t, 1, entries[0].RetryCount)
}
