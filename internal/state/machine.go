// Package state validates TaskExecution status transitions and publishes
// transition events for external subscribers.
package state

import (
	"errors"
	"fmt"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Machine validates TaskExecution status transitions.
type Machine struct {
	validTransitions map[pipeline.TaskState][]pipeline.TaskState
}

// NewMachine creates a Machine wired to the task lifecycle described in the
// pipeline executor's per-task steps: pending -> running -> {success,
// failed, cancelled}; a retried failure resets back to pending.
func NewMachine() *Machine {
	return &Machine{
		validTransitions: map[pipeline.TaskState][]pipeline.TaskState{
			pipeline.TaskPending: {
				pipeline.TaskRunning,
				pipeline.TaskSkipped,
				pipeline.TaskCancelled,
			},
			pipeline.TaskRunning: {
				pipeline.TaskSuccess,
				pipeline.TaskFailed,
				pipeline.TaskPending, // reset for retry
				pipeline.TaskCancelled,
			},
			pipeline.TaskSuccess:   {},
			pipeline.TaskFailed:    {},
			pipeline.TaskSkipped:   {},
			pipeline.TaskCancelled: {},
		},
	}
}

// CanTransition reports whether from -> to is a valid transition. A
// transition to the same state is always allowed.
func (m *Machine) CanTransition(from, to pipeline.TaskState) bool {
	if from == to {
		return true
	}
	for _, s := range m.validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition if from -> to is illegal.
func (m *Machine) ValidateTransition(from, to pipeline.TaskState) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// GetNextStates returns every state reachable directly from current.
func (m *Machine) GetNextStates(current pipeline.TaskState) []pipeline.TaskState {
	return m.validTransitions[current]
}

// TransitionEvent is emitted whenever a TaskExecution or PipelineRun
// changes status.
type TransitionEvent struct {
	EntityType string // "pipeline_run" or "task_execution"
	EntityID   string
	OldState   string
	NewState   string
	Metadata   map[string]interface{}
}

// EventPublisher publishes state change events.
type EventPublisher interface {
	Publish(event TransitionEvent) error
}

// NoOpPublisher discards every event; used when no Notifier is configured.
type NoOpPublisher struct{}

func (p *NoOpPublisher) Publish(event TransitionEvent) error { return nil }

// Manager validates a transition, then publishes the resulting event.
type Manager struct {
	machine   *Machine
	publisher EventPublisher
}

// NewManager creates a Manager; a nil publisher becomes a NoOpPublisher.
func NewManager(publisher EventPublisher) *Manager {
	if publisher == nil {
		publisher = &NoOpPublisher{}
	}
	return &Manager{machine: NewMachine(), publisher: publisher}
}

// Transition validates from -> to for a task execution and publishes the
// resulting event.
func (m *Manager) Transition(entityType, entityID string, from, to pipeline.TaskState, metadata map[string]interface{}) error {
	if err := m.machine.ValidateTransition(from, to); err != nil {
		return err
	}
	event := TransitionEvent{
		EntityType: entityType,
		EntityID:   entityID,
		OldState:   string(from),
		NewState:   string(to),
		Metadata:   metadata,
	}
	if err := m.publisher.Publish(event); err != nil {
		return fmt.Errorf("publishing state transition event: %w", err)
	}
	return nil
}

// PublishRunTransition publishes a PipelineRun-level status change without
// task-state validation, since RunState has its own, simpler lifecycle.
func (m *Manager) PublishRunTransition(runID string, from, to pipeline.RunState, metadata map[string]interface{}) error {
	event := TransitionEvent{
		EntityType: "pipeline_run",
		EntityID:   runID,
		OldState:   string(from),
		NewState:   string(to),
		Metadata:   metadata,
	}
	return m.publisher.Publish(event)
}
