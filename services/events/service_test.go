package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories/memory"
	"github.com/opshub/exception-plane/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestEvent() *models.Event {
	return models.NewEvent(uuid.New(), uuid.New(), models.EventTypeExceptionCreated, models.SystemActor(), []byte(`{"source":"erp"}`))
}

func TestAppendIfNewStoresAndPublishes(t *testing.T) {
	store := memory.NewStore()
	pub := &fakePublisher{}
	svc := NewService(store.Repositories().Events, pub, zap.NewNop())
	ctx := context.Background()

	event := newTestEvent()
	inserted, err := svc.AppendIfNew(ctx, event)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 1, pub.count())
	assert.False(t, event.CreatedAt.IsZero())
}

func TestAppendIfNewDuplicateIsNoOp(t *testing.T) {
	store := memory.NewStore()
	pub := &fakePublisher{}
	svc := NewService(store.Repositories().Events, pub, zap.NewNop())
	ctx := context.Background()

	event := newTestEvent()
	inserted, err := svc.AppendIfNew(ctx, event)
	require.NoError(t, err)
	require.True(t, inserted)

	// Same ID, different payload: first write wins and nothing is republished.
	dup := *event
	dup.Payload = []byte(`{"source":"crm"}`)
	inserted, err = svc.AppendIfNew(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 1, pub.count())

	stored, err := store.Repositories().Events.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"erp"}`, string(stored.Payload))
}

func TestAppendDuplicateReturnsConflict(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Repositories().Events, nil, zap.NewNop())
	ctx := context.Background()

	event := newTestEvent()
	require.NoError(t, svc.Append(ctx, event))

	err := svc.Append(ctx, event)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrEventExists))
	assert.True(t, services.IsConflictError(err))
}

func TestAppendIfNewPublishFailureIsSwallowed(t *testing.T) {
	store := memory.NewStore()
	pub := &fakePublisher{err: errors.New("buffer full")}
	svc := NewService(store.Repositories().Events, pub, zap.NewNop())
	ctx := context.Background()

	event := newTestEvent()
	inserted, err := svc.AppendIfNew(ctx, event)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Stored despite the failed publish; the redeliverer owns delivery.
	exists, err := svc.Exists(ctx, event.TenantID, event.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHasEmitted(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Repositories().Events, nil, zap.NewNop())
	ctx := context.Background()

	event := newTestEvent()
	_, err := svc.AppendIfNew(ctx, event)
	require.NoError(t, err)

	emitted, err := svc.HasEmitted(ctx, event.TenantID, event.ExceptionID, models.EventTypeExceptionCreated)
	require.NoError(t, err)
	assert.True(t, emitted)

	emitted, err = svc.HasEmitted(ctx, event.TenantID, event.ExceptionID, models.EventTypeSLAExpired)
	require.NoError(t, err)
	assert.False(t, emitted)

	// Scoped per exception.
	emitted, err = svc.HasEmitted(ctx, event.TenantID, uuid.New(), models.EventTypeExceptionCreated)
	require.NoError(t, err)
	assert.False(t, emitted)
}

func TestListForExceptionPreservesInsertionOrder(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Repositories().Events, nil, zap.NewNop())
	ctx := context.Background()

	tenantID := uuid.New()
	exceptionID := uuid.New()
	types := []models.EventType{
		models.EventTypeExceptionCreated,
		models.EventTypePlaybookStarted,
		models.EventTypePlaybookStepCompleted,
	}
	for _, eventType := range types {
		_, err := svc.AppendIfNew(ctx, models.NewEvent(tenantID, exceptionID, eventType, models.SystemActor(), []byte(`{}`)))
		require.NoError(t, err)
	}

	timeline, err := svc.ListForException(ctx, tenantID, exceptionID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	for i, eventType := range types {
		assert.Equal(t, eventType, timeline[i].Type)
	}
}
