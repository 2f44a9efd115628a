package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionTypeIsRisky(t *testing.T) {
	tests := []struct {
		action ActionType
		risky  bool
	}{
		{ActionTypeNotify, false},
		{ActionTypeAddComment, false},
		{ActionTypeSetStatus, false},
		{ActionTypeAssignOwner, false},
		{ActionTypeCallTool, true},
		{ActionType("escalate_to_vendor"), true}, // unrecognized types are risky
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.risky, tt.action.IsRisky())
		})
	}
}

func TestPlaybookStepLookup(t *testing.T) {
	pb := NewPlaybook(uuid.New(), "Settle-Retry", "retry settlement")
	pb.Steps = []*PlaybookStep{
		{ID: uuid.New(), PlaybookID: pb.ID, StepOrder: 1, ActionType: ActionTypeNotify},
		{ID: uuid.New(), PlaybookID: pb.ID, StepOrder: 2, ActionType: ActionTypeCallTool},
	}

	require.NotNil(t, pb.StepByOrder(2))
	assert.Equal(t, ActionTypeCallTool, pb.StepByOrder(2).ActionType)
	assert.Nil(t, pb.StepByOrder(3))
	assert.Equal(t, 2, pb.MaxStepOrder())
}

func TestExceptionPlaybookPointer(t *testing.T) {
	exc := NewException(uuid.New(), "settlement", "trade_break", SeverityHigh)
	assert.False(t, exc.HasActivePlaybook())
	assert.True(t, exc.IsOpen())

	pbID := uuid.New()
	step := 1
	exc.CurrentPlaybookID = &pbID
	exc.CurrentStep = &step
	assert.True(t, exc.HasActivePlaybook())

	// step pointer cleared on completion, playbook id retained
	exc.CurrentStep = nil
	assert.False(t, exc.HasActivePlaybook())
}

func TestNewEventDefaults(t *testing.T) {
	tenantID := uuid.New()
	excID := uuid.New()
	actorID := uuid.New()

	ev := NewEvent(tenantID, excID, EventTypePlaybookStarted, Actor{Type: ActorTypeUser, ID: &actorID}, nil)
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, tenantID, ev.TenantID)
	assert.Equal(t, excID, ev.ExceptionID)
	assert.Equal(t, ActorTypeUser, ev.ActorType)
	require.NotNil(t, ev.ActorID)
	assert.Equal(t, actorID, *ev.ActorID)
	assert.False(t, ev.CreatedAt.IsZero())
}
