package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/opshub/exception-plane/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &DB{DB: sqlDB, logger: zap.NewNop()}, mock
}

func sampleEvent() *models.Event {
	return &models.Event{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		ExceptionID: uuid.New(),
		Type:        models.EventTypePlaybookStarted,
		ActorType:   models.ActorTypeUser,
		Payload:     []byte(`{"playbook_id":"x"}`),
		CreatedAt:   time.Now(),
	}
}

func TestEventRepositoryInsertIfNew(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := sampleEvent()

	mock.ExpectExec(`INSERT INTO exception_events`).
		WithArgs(event.ID, event.TenantID, event.ExceptionID, event.Type, event.ActorType,
			event.ActorID, []byte(event.Payload), event.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.InsertIfNew(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryInsertIfNewDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := sampleEvent()

	mock.ExpectExec(`INSERT INTO exception_events`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "exception_events_pkey"})

	inserted, err := repo.InsertIfNew(context.Background(), event)
	require.NoError(t, err, "duplicate insert must not surface as an error")
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryInsertIfNewOtherErrorPropagates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	event := sampleEvent()

	mock.ExpectExec(`INSERT INTO exception_events`).
		WillReturnError(errors.New("connection reset"))

	inserted, err := repo.InsertIfNew(context.Background(), event)
	require.Error(t, err)
	assert.False(t, inserted)
}

func TestEventRepositoryExistsForException(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	tenantID := uuid.New()
	excID := uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(tenantID, excID, models.EventTypeSLAImminent).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsForException(context.Background(), tenantID, excID, models.EventTypeSLAImminent)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEventRepositoryHasPlaybookEventWithStep(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	tenantID := uuid.New()
	excID := uuid.New()
	pbID := uuid.New()
	step := 2

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(tenantID, excID, models.EventTypePlaybookStepCompleted, pbID.String(), "2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := repo.HasPlaybookEvent(context.Background(), tenantID, excID,
		models.EventTypePlaybookStepCompleted, pbID, &step)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEventRepositoryListForException(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	tenantID := uuid.New()
	excID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "exception_id", "event_type", "actor_type", "actor_id", "payload", "created_at",
	}).
		AddRow(uuid.New(), tenantID, excID, "PlaybookStarted", "user", nil, []byte(`{}`), now).
		AddRow(uuid.New(), tenantID, excID, "PlaybookStepCompleted", "user", nil, []byte(`{}`), now)

	mock.ExpectQuery(`SELECT id, tenant_id, exception_id`).
		WithArgs(tenantID, excID).
		WillReturnRows(rows)

	events, err := repo.ListForException(context.Background(), tenantID, excID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypePlaybookStarted, events[0].Type)
	assert.Equal(t, models.EventTypePlaybookStepCompleted, events[1].Type)
}
