// Package memory provides in-memory implementations of the repository
// interfaces. They honor the same contracts as the postgres implementations
// (idempotent event insert, conditional pointer advance) and back the
// service-level tests.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opshub/exception-plane/models"
	"github.com/opshub/exception-plane/repositories"
)

// Store holds all in-memory repositories over one shared mutex
type Store struct {
	mu         sync.Mutex
	tenants    map[uuid.UUID]*models.Tenant
	exceptions map[uuid.UUID]*models.Exception
	playbooks  map[uuid.UUID]*models.Playbook
	events     []*models.Event
	eventIndex map[uuid.UUID]*models.Event
	processing map[string]*models.ProcessingEntry
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		tenants:    make(map[uuid.UUID]*models.Tenant),
		exceptions: make(map[uuid.UUID]*models.Exception),
		playbooks:  make(map[uuid.UUID]*models.Playbook),
		eventIndex: make(map[uuid.UUID]*models.Event),
		processing: make(map[string]*models.ProcessingEntry),
	}
}

// Repositories returns the repository facade over this store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Tenants:    &tenantRepo{s},
		Exceptions: &exceptionRepo{s},
		Playbooks:  &playbookRepo{s},
		Events:     &eventRepo{s},
		Processing: &processingRepo{s},
	}
}

// TransactionManager returns a pass-through transaction manager. The store
// mutates under a single lock, so there is no transactional scope to manage.
func (s *Store) TransactionManager() repositories.TransactionManager {
	return txManager{}
}

type txManager struct{}

func (txManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return noopTx{ctx: ctx}, nil
}

func (txManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, noopTx{ctx: ctx})
}

type noopTx struct{ ctx context.Context }

func (noopTx) Commit() error              { return nil }
func (noopTx) Rollback() error            { return nil }
func (t noopTx) Context() context.Context { return t.ctx }

func processingKey(eventID uuid.UUID, workerKind string) string {
	return eventID.String() + "|" + workerKind
}

type tenantRepo struct{ s *Store }

func (r *tenantRepo) Create(_ context.Context, tenant *models.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *tenant
	r.s.tenants[tenant.ID] = &cp
	return nil
}

func (r *tenantRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

type exceptionRepo struct{ s *Store }

func (r *exceptionRepo) Create(_ context.Context, exc *models.Exception) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *exc
	r.s.exceptions[exc.ID] = &cp
	return nil
}

func (r *exceptionRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*models.Exception, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	exc, ok := r.s.exceptions[id]
	if !ok || exc.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	cp := *exc
	return &cp, nil
}

func (r *exceptionRepo) ListOpenWithDeadline(_ context.Context) ([]*models.Exception, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Exception
	for _, exc := range r.s.exceptions {
		if exc.SLADeadline != nil && exc.IsOpen() {
			cp := *exc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SLADeadline.Before(*out[j].SLADeadline)
	})
	return out, nil
}

func (r *exceptionRepo) StartPlaybook(_ context.Context, tenantID, id, playbookID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	exc, ok := r.s.exceptions[id]
	if !ok || exc.TenantID != tenantID {
		return sql.ErrNoRows
	}
	pbID := playbookID
	step := 1
	exc.CurrentPlaybookID = &pbID
	exc.CurrentStep = &step
	exc.UpdatedAt = time.Now()
	return nil
}

func (r *exceptionRepo) AdvanceStep(_ context.Context, tenantID, id, playbookID uuid.UUID, fromStep int, next *int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	exc, ok := r.s.exceptions[id]
	if !ok || exc.TenantID != tenantID {
		return false, nil
	}
	if exc.CurrentPlaybookID == nil || *exc.CurrentPlaybookID != playbookID {
		return false, nil
	}
	if exc.CurrentStep == nil || *exc.CurrentStep != fromStep {
		return false, nil
	}
	if next == nil {
		exc.CurrentStep = nil
	} else {
		n := *next
		exc.CurrentStep = &n
	}
	exc.UpdatedAt = time.Now()
	return true, nil
}

func (r *exceptionRepo) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, status models.ExceptionStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	exc, ok := r.s.exceptions[id]
	if !ok || exc.TenantID != tenantID {
		return sql.ErrNoRows
	}
	exc.Status = status
	exc.UpdatedAt = time.Now()
	return nil
}

type playbookRepo struct{ s *Store }

func (r *playbookRepo) Create(_ context.Context, pb *models.Playbook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *pb
	cp.Steps = make([]*models.PlaybookStep, len(pb.Steps))
	for i, step := range pb.Steps {
		sc := *step
		cp.Steps[i] = &sc
	}
	r.s.playbooks[pb.ID] = &cp
	return nil
}

func (r *playbookRepo) GetByID(_ context.Context, tenantID, id uuid.UUID) (*models.Playbook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pb, ok := r.s.playbooks[id]
	if !ok || pb.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	cp := *pb
	cp.Steps = make([]*models.PlaybookStep, len(pb.Steps))
	for i, step := range pb.Steps {
		sc := *step
		cp.Steps[i] = &sc
	}
	sort.Slice(cp.Steps, func(i, j int) bool { return cp.Steps[i].StepOrder < cp.Steps[j].StepOrder })
	return &cp, nil
}

func (r *playbookRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*models.Playbook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Playbook
	for _, pb := range r.s.playbooks {
		if pb.TenantID == tenantID {
			cp := *pb
			cp.Steps = nil
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *playbookRepo) ReorderSteps(_ context.Context, tenantID, playbookID uuid.UUID, orderedStepIDs []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pb, ok := r.s.playbooks[playbookID]
	if !ok || pb.TenantID != tenantID {
		return sql.ErrNoRows
	}
	byID := make(map[uuid.UUID]*models.PlaybookStep, len(pb.Steps))
	for _, step := range pb.Steps {
		byID[step.ID] = step
	}
	for i, stepID := range orderedStepIDs {
		step, ok := byID[stepID]
		if !ok {
			return fmt.Errorf("step %s not found in playbook %s", stepID, playbookID)
		}
		step.StepOrder = i + 1
	}
	return nil
}

type eventRepo struct{ s *Store }

func (r *eventRepo) InsertIfNew(_ context.Context, event *models.Event) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.eventIndex[event.ID]; exists {
		return false, nil
	}
	cp := *event
	r.s.events = append(r.s.events, &cp)
	r.s.eventIndex[event.ID] = &cp
	return true, nil
}

func (r *eventRepo) Exists(_ context.Context, tenantID, eventID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.eventIndex[eventID]
	return ok && ev.TenantID == tenantID, nil
}

func (r *eventRepo) GetByID(_ context.Context, eventID uuid.UUID) (*models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.eventIndex[eventID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *ev
	return &cp, nil
}

func (r *eventRepo) ListForException(_ context.Context, tenantID, exceptionID uuid.UUID) ([]*models.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Event
	for _, ev := range r.s.events {
		if ev.TenantID == tenantID && ev.ExceptionID == exceptionID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *eventRepo) ExistsForException(_ context.Context, tenantID, exceptionID uuid.UUID, eventType models.EventType) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ev := range r.s.events {
		if ev.TenantID == tenantID && ev.ExceptionID == exceptionID && ev.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (r *eventRepo) HasPlaybookEvent(_ context.Context, tenantID, exceptionID uuid.UUID, eventType models.EventType, playbookID uuid.UUID, stepOrder *int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ev := range r.s.events {
		if ev.TenantID != tenantID || ev.ExceptionID != exceptionID || ev.Type != eventType {
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		if payload["playbook_id"] != playbookID.String() {
			continue
		}
		if stepOrder == nil {
			return true, nil
		}
		if raw, ok := payload["step_order"]; ok {
			// JSON numbers decode as float64
			if f, ok := raw.(float64); ok && strconv.Itoa(int(f)) == strconv.Itoa(*stepOrder) {
				return true, nil
			}
		}
	}
	return false, nil
}

type processingRepo struct{ s *Store }

func (r *processingRepo) Get(_ context.Context, eventID uuid.UUID, workerKind string) (*models.ProcessingEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry, ok := r.s.processing[processingKey(eventID, workerKind)]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (r *processingRepo) MarkProcessing(_ context.Context, eventID uuid.UUID, workerKind string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	key := processingKey(eventID, workerKind)
	if entry, ok := r.s.processing[key]; ok {
		entry.Status = models.ProcessingStatusProcessing
		entry.NextAttemptAt = nil
		entry.UpdatedAt = now
		return nil
	}
	r.s.processing[key] = &models.ProcessingEntry{
		EventID:    eventID,
		WorkerKind: workerKind,
		Status:     models.ProcessingStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (r *processingRepo) MarkCompleted(_ context.Context, eventID uuid.UUID, workerKind string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if entry, ok := r.s.processing[processingKey(eventID, workerKind)]; ok {
		entry.Status = models.ProcessingStatusCompleted
		entry.ErrorMessage = nil
		entry.NextAttemptAt = nil
		entry.UpdatedAt = time.Now()
	}
	return nil
}

func (r *processingRepo) MarkFailed(_ context.Context, eventID uuid.UUID, workerKind string, retryCount int, errorMessage string, nextAttemptAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	key := processingKey(eventID, workerKind)
	entry, ok := r.s.processing[key]
	if !ok {
		entry = &models.ProcessingEntry{EventID: eventID, WorkerKind: workerKind, CreatedAt: now}
		r.s.processing[key] = entry
	}
	entry.Status = models.ProcessingStatusFailed
	entry.RetryCount = retryCount
	entry.ErrorMessage = &errorMessage
	entry.NextAttemptAt = nextAttemptAt
	entry.UpdatedAt = now
	return nil
}

func (r *processingRepo) MarkDeadLetter(_ context.Context, eventID uuid.UUID, workerKind string, errorMessage string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	key := processingKey(eventID, workerKind)
	entry, ok := r.s.processing[key]
	if !ok {
		entry = &models.ProcessingEntry{EventID: eventID, WorkerKind: workerKind, CreatedAt: now}
		r.s.processing[key] = entry
	}
	entry.Status = models.ProcessingStatusDeadLetter
	entry.ErrorMessage = &errorMessage
	entry.NextAttemptAt = nil
	entry.UpdatedAt = now
	return nil
}

func (r *processingRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*models.ProcessingEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ProcessingEntry
	for _, entry := range r.s.processing {
		if entry.Status == models.ProcessingStatusFailed && entry.NextAttemptAt != nil && !entry.NextAttemptAt.After(now) {
			cp := *entry
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *processingRepo) ListDeadLetters(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.DeadLetter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.DeadLetter
	for _, entry := range r.s.processing {
		if entry.Status != models.ProcessingStatusDeadLetter {
			continue
		}
		ev, ok := r.s.eventIndex[entry.EventID]
		if !ok || ev.TenantID != tenantID {
			continue
		}
		out = append(out, &models.DeadLetter{Entry: *entry, Event: *ev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.UpdatedAt.After(out[j].Entry.UpdatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
