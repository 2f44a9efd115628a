package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRetryScheduler struct {
	mu       sync.Mutex
	schedule bool
	calls    []string
}

func (f *fakeRetryScheduler) ScheduleRetry(_ context.Context, event *models.Event, workerKind string, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, workerKind)
	return f.schedule, nil
}

func (f *fakeRetryScheduler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newDispatcherFixture(t *testing.T, schedule bool) (*Dispatcher, *memory.Store, *fakeRetryScheduler) {
	t.Helper()
	store := memory.NewStore()
	retries := &fakeRetryScheduler{schedule: schedule}
	d := NewDispatcher(store.Repositories().Processing, retries, zap.NewNop(), Config{BufferSize: 16, WorkerCount: 2})
	return d, store, retries
}

func TestDispatcherDeliversToRegisteredKinds(t *testing.T) {
	d, store, _ := newDispatcherFixture(t, true)
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[string]int)
	for _, kind := range []string{"notifier", "indexer"} {
		k := kind
		d.Register(k, func(_ context.Context, _ *models.Event) error {
			mu.Lock()
			seen[k]++
			mu.Unlock()
			return nil
		})
	}

	require.NoError(t, d.Start())
	event := models.NewEvent(uuid.New(), uuid.New(), models.EventTypeExceptionCreated, models.SystemActor(), []byte(`{}`))
	require.NoError(t, d.Publish(ctx, event))
	require.NoError(t, d.Stop(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen["notifier"])
	assert.Equal(t, 1, seen["indexer"])

	for _, kind := range []string{"notifier", "indexer"} {
		entry, err := store.Repositories().Processing.Get(ctx, event.ID, kind)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, models.ProcessingStatusCompleted, entry.Status)
	}
}

func TestDispatcherRoutesFailuresToRetryScheduler(t *testing.T) {
	d, _, retries := newDispatcherFixture(t, true)
	ctx := context.Background()

	d.Register("notifier", func(_ context.Context, _ *models.Event) error {
		return errors.New("downstream timeout")
	})

	require.NoError(t, d.Start())
	event := models.NewEvent(uuid.New(), uuid.New(), models.EventTypeSLAImminent, models.SystemActor(), []byte(`{}`))
	require.NoError(t, d.Publish(ctx, event))
	require.NoError(t, d.Stop(2*time.Second))

	assert.Equal(t, 1, retries.callCount())
}

func TestDispatcherDeadLettersExhaustedDeliveries(t *testing.T) {
	d, store, retries := newDispatcherFixture(t, false)
	ctx := context.Background()

	d.Register("notifier", func(_ context.Context, _ *models.Event) error {
		return errors.New("downstream timeout")
	})

	require.NoError(t, d.Start())
	event := models.NewEvent(uuid.New(), uuid.New(), models.EventTypeSLAExpired, models.SystemActor(), []byte(`{}`))
	require.NoError(t, d.Publish(ctx, event))
	require.NoError(t, d.Stop(2*time.Second))

	assert.Equal(t, 1, retries.callCount())
	entry, err := store.Repositories().Processing.Get(ctx, event.ID, "notifier")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.ProcessingStatusDeadLetter, entry.Status)
}

func TestDispatcherSkipsCompletedKindsOnRedelivery(t *testing.T) {
	d, store, _ := newDispatcherFixture(t, true)
	ctx := context.Background()

	var mu sync.Mutex
	invoked := 0
	d.Register("notifier", func(_ context.Context, _ *models.Event) error {
		mu.Lock()
		invoked++
		mu.Unlock()
		return nil
	})

	event := models.NewEvent(uuid.New(), uuid.New(), models.EventTypeExceptionCreated, models.SystemActor(), []byte(`{}`))
	require.NoError(t, store.Repositories().Processing.MarkProcessing(ctx, event.ID, "notifier"))
	require.NoError(t, store.Repositories().Processing.MarkCompleted(ctx, event.ID, "notifier"))

	require.NoError(t, d.Start())
	require.NoError(t, d.Publish(ctx, event))
	require.NoError(t, d.Stop(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, invoked)
}

func TestDispatcherRecoversFromHandlerPanic(t *testing.T) {
	d, store, retries := newDispatcherFixture(t, false)
	ctx := context.Background()

	d.Register("notifier", func(_ context.Context, _ *models.Event) error {
		panic("boom")
	})

	require.NoError(t, d.Start())
	event := models.NewEvent(uuid.New(), uuid.New(), models.EventTypeExceptionCreated, models.SystemActor(), []byte(`{}`))
	require.NoError(t, d.Publish(ctx, event))
	require.NoError(t, d.Stop(2*time.Second))

	assert.Equal(t, 1, retries.callCount())
	entry, err := store.Repositories().Processing.Get(ctx, event.ID, "notifier")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.ProcessingStatusDeadLetter, entry.Status)
}

func TestDispatcherPublishBeforeStartFails(t *testing.T) {
	d, _, _ := newDispatcherFixture(t, true)
	event := models.NewEvent(uuid.New(), uuid.New(), models.EventTypeExceptionCreated, models.SystemActor(), []byte(`{}`))
	assert.Error(t, d.Publish(context.Background(), event))
}
