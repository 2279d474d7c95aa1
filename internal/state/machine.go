package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPublishFailed is returned when a valid transition could not be announced
	ErrPublishFailed = errors.New("failed to publish state transition event")
)

// Entity types carried by transition events
const (
	EntityDAGRun = "dag_run"
	EntityTask   = "task"
)

// StateMachine manages state transitions for DAG runs and task nodes
type StateMachine struct {
	validTransitions map[models.State][]models.State
}

// NewStateMachine creates the task node state machine:
// pending -> waiting -> running -> success|failed, or pending -> skipped.
// A waiting task may fail before it starts (lock held, unknown task type).
func NewStateMachine() *StateMachine {
	return &StateMachine{
		validTransitions: map[models.State][]models.State{
			models.StatePending: {
				models.StateWaiting,
				models.StateSkipped,
				models.StateRunning, // DAG runs move straight to running
			},
			models.StateWaiting: {
				models.StateRunning,
				models.StateFailed,
			},
			models.StateRunning: {
				models.StateSuccess,
				models.StateFailed,
			},
			// Terminal states don't transition
			models.StateSuccess: {},
			models.StateFailed:  {},
			models.StateSkipped: {},
		},
	}
}

// CanTransition checks if a state transition is valid
func (sm *StateMachine) CanTransition(from, to models.State) bool {
	// Allow transition to same state (idempotent)
	if from == to {
		return true
	}

	for _, state := range sm.validTransitions[from] {
		if state == to {
			return true
		}
	}
	return false
}

// ValidateTransition validates a state transition and returns an error if invalid
func (sm *StateMachine) ValidateTransition(from, to models.State) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// GetNextStates returns all valid next states from the current state
func (sm *StateMachine) GetNextStates(current models.State) []models.State {
	states, exists := sm.validTransitions[current]
	if !exists {
		return []models.State{}
	}
	return states
}

// IsTerminalState checks if a state is terminal (no further transitions)
func (sm *StateMachine) IsTerminalState(state models.State) bool {
	return state.IsTerminal()
}

// TransitionEvent represents a state transition event
type TransitionEvent struct {
	EntityType string         `json:"entity_type"` // "dag_run" or "task"
	EntityID   string         `json:"entity_id"`   // run_id or task_id
	DAGID      string         `json:"dag_id"`
	RunID      string         `json:"run_id"`
	OldState   models.State   `json:"old_state"`
	NewState   models.State   `json:"new_state"`
	At         time.Time      `json:"at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventPublisher is an interface for publishing state change events
type EventPublisher interface {
	Publish(event TransitionEvent) error
}

// NoOpPublisher is a no-op event publisher for testing
type NoOpPublisher struct{}

// Publish does nothing
func (p *NoOpPublisher) Publish(event TransitionEvent) error {
	return nil
}

// Manager handles state transitions with event publishing
type Manager struct {
	machine   *StateMachine
	publisher EventPublisher
}

// NewManager creates a new state manager
func NewManager(publisher EventPublisher) *Manager {
	if publisher == nil {
		publisher = &NoOpPublisher{}
	}
	return &Manager{
		machine:   NewStateMachine(),
		publisher: publisher,
	}
}

// Transition validates a transition and publishes it.
// A publish failure is reported with ErrPublishFailed after validation has passed.
func (m *Manager) Transition(event TransitionEvent) error {
	if err := m.machine.ValidateTransition(event.OldState, event.NewState); err != nil {
		return err
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if err := m.publisher.Publish(event); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	return nil
}

// CanTransition delegates to the state machine
func (m *Manager) CanTransition(from, to models.State) bool {
	return m.machine.CanTransition(from, to)
}
