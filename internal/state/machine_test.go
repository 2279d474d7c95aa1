package state

import (
	"errors"
	"testing"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func TestStateMachine_CanTransition(t *testing.T) {
	sm := NewStateMachine()

	tests := []struct {
		name     string
		from     models.State
		to       models.State
		expected bool
	}{
		// Valid transitions from Pending
		{"Pending to Waiting", models.StatePending, models.StateWaiting, true},
		{"Pending to Skipped", models.StatePending, models.StateSkipped, true},
		{"Pending to Running", models.StatePending, models.StateRunning, true},

		// Valid transitions from Waiting
		{"Waiting to Running", models.StateWaiting, models.StateRunning, true},
		{"Waiting to Failed", models.StateWaiting, models.StateFailed, true},

		// Valid transitions from Running
		{"Running to Success", models.StateRunning, models.StateSuccess, true},
		{"Running to Failed", models.StateRunning, models.StateFailed, true},

		// Idempotent transitions (same state)
		{"Pending to Pending", models.StatePending, models.StatePending, true},
		{"Running to Running", models.StateRunning, models.StateRunning, true},

		// Invalid transitions
		{"Success to Running", models.StateSuccess, models.StateRunning, false},
		{"Failed to Running", models.StateFailed, models.StateRunning, false},
		{"Skipped to Running", models.StateSkipped, models.StateRunning, false},
		{"Pending to Success", models.StatePending, models.StateSuccess, false},
		{"Waiting to Skipped", models.StateWaiting, models.StateSkipped, false},
		{"Running to Pending", models.StateRunning, models.StatePending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sm.CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestStateMachine_ValidateTransition(t *testing.T) {
	sm := NewStateMachine()

	err := sm.ValidateTransition(models.StateSuccess, models.StateRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	if err := sm.ValidateTransition(models.StateWaiting, models.StateRunning); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestStateMachine_GetNextStates(t *testing.T) {
	sm := NewStateMachine()

	tests := []struct {
		name     string
		current  models.State
		expected int // number of valid next states
	}{
		{"Pending has 3 next states", models.StatePending, 3},
		{"Waiting has 2 next states", models.StateWaiting, 2},
		{"Running has 2 next states", models.StateRunning, 2},
		{"Success has 0 next states", models.StateSuccess, 0},
		{"Failed has 0 next states", models.StateFailed, 0},
		{"Skipped has 0 next states", models.StateSkipped, 0},
		{"Unknown has 0 next states", models.State("queued"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := sm.GetNextStates(tt.current)
			if len(states) != tt.expected {
				t.Errorf("GetNextStates(%s) returned %d states, want %d", tt.current, len(states), tt.expected)
			}
		})
	}
}

func TestManager_Transition(t *testing.T) {
	var publishedEvents []TransitionEvent
	manager := NewManager(&mockPublisher{events: &publishedEvents})

	tests := []struct {
		name      string
		event     TransitionEvent
		wantError bool
	}{
		{
			name: "Valid transition publishes event",
			event: TransitionEvent{
				EntityType: EntityTask, EntityID: "sync_daily_data", RunID: "r1",
				OldState: models.StateWaiting, NewState: models.StateRunning,
			},
		},
		{
			name: "Invalid transition returns error",
			event: TransitionEvent{
				EntityType: EntityTask, EntityID: "factor_ma_20", RunID: "r1",
				OldState: models.StateSkipped, NewState: models.StateRunning,
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publishedEvents = []TransitionEvent{} // Reset

			err := manager.Transition(tt.event)
			if (err != nil) != tt.wantError {
				t.Errorf("Transition() error = %v, wantError %v", err, tt.wantError)
			}

			if tt.wantError {
				if len(publishedEvents) != 0 {
					t.Errorf("Expected no events for rejected transition, got %d", len(publishedEvents))
				}
				return
			}
			if len(publishedEvents) != 1 {
				t.Fatalf("Expected 1 event to be published, got %d", len(publishedEvents))
			}
			event := publishedEvents[0]
			if event.EntityID != tt.event.EntityID {
				t.Errorf("Event EntityID = %s, want %s", event.EntityID, tt.event.EntityID)
			}
			if event.At.IsZero() {
				t.Error("Expected event timestamp to be set")
			}
		})
	}
}

func TestManager_PublishFailure(t *testing.T) {
	manager := NewManager(failingPublisher{})

	err := manager.Transition(TransitionEvent{
		EntityType: EntityDAGRun, EntityID: "r1",
		OldState: models.StatePending, NewState: models.StateRunning,
	})
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Expected ErrPublishFailed, got %v", err)
	}
	if errors.Is(err, ErrInvalidTransition) {
		t.Error("Publish failure must not look like an invalid transition")
	}
}

func TestMultiPublisher_ContinuesPastFailures(t *testing.T) {
	var events []TransitionEvent
	multi := NewMultiPublisher(failingPublisher{}, &mockPublisher{events: &events}, LogPublisher{})

	if err := multi.Publish(TransitionEvent{EntityID: "x"}); err != nil {
		t.Errorf("MultiPublisher.Publish() returned %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected downstream publisher to receive event, got %d", len(events))
	}
}

func TestNoOpPublisher(t *testing.T) {
	publisher := &NoOpPublisher{}
	if err := publisher.Publish(TransitionEvent{EntityID: "123"}); err != nil {
		t.Errorf("NoOpPublisher.Publish() should never return error, got %v", err)
	}
}

type mockPublisher struct {
	events *[]TransitionEvent
}

func (m *mockPublisher) Publish(event TransitionEvent) error {
	*m.events = append(*m.events, event)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(TransitionEvent) error {
	return errors.New("redis unavailable")
}
