// Package errorhandling implements the error taxonomy and failure
// propagation policy the executor uses to translate task failures into run
// status and to mark downstream tasks skipped.
package errorhandling

import (
	"context"
	"errors"
	"fmt"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// The four error kinds named in the error handling design. Each error type
// below matches its sentinel through errors.Is; PluginError and StateError
// also wrap the underlying cause so callers can errors.Is/As through to it.
var (
	ErrValidation = errors.New("validation error")
	ErrPlugin     = errors.New("plugin error")
	ErrExecution  = errors.New("execution error")
	ErrState      = errors.New("state error")
)

// ValidationError is raised by the parser; it is surfaced to the caller,
// who decides whether to proceed (possibly honoring --force).
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Messages)
}
func (e *ValidationError) Unwrap() error { return ErrValidation }

// PluginError is raised by the registry or a plugin. It is recorded on the
// TaskExecution and never escapes the executor.
type PluginError struct {
	TaskID string
	Cause  error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("task %s: plugin error: %v", e.TaskID, e.Cause)
}

// Unwrap returns Cause, so errors.Is/errors.As can traverse to whatever
// the plugin actually returned (e.g. a context.DeadlineExceeded).
func (e *PluginError) Unwrap() error { return e.Cause }

// Is reports whether target is the ErrPlugin sentinel, independent of
// the Unwrap chain, so errors.Is(err, ErrPlugin) keeps working for
// callers that only care about the error kind.
func (e *PluginError) Is(target error) bool { return target == ErrPlugin }

// ExecutionError is raised by the executor itself: a stuck/deadlocked
// graph, an unresolved plugin at dispatch time, or a timed-out task. It is
// fatal to the run unless the task is retried.
type ExecutionError struct {
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %s", e.Reason)
}
func (e *ExecutionError) Unwrap() error { return ErrExecution }

// StateError is raised by the state store. Callers log it and retry the
// operation once before giving up.
type StateError struct {
	Op    string
	Cause error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state store %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns Cause, so errors.Is/errors.As can traverse to the
// underlying store failure.
func (e *StateError) Unwrap() error { return e.Cause }

// Is reports whether target is the ErrState sentinel, independent of
// the Unwrap chain, so errors.Is(err, ErrState) keeps working for
// callers that only care about the error kind.
func (e *StateError) Is(target error) bool { return target == ErrState }

// PropagationPolicy defines how a task failure propagates through the
// pipeline graph.
type PropagationPolicy string

const (
	// PropagationPolicyFail stops the entire run on any task failure.
	PropagationPolicyFail PropagationPolicy = "fail"

	// PropagationPolicySkipDownstream marks not-yet-started descendants
	// skipped. This is the only policy the core executor selects; the
	// others remain available to programmatic embedders.
	PropagationPolicySkipDownstream PropagationPolicy = "skip_downstream"

	// PropagationPolicyAllowPartial lets independent branches continue
	// even when a task outside them fails.
	PropagationPolicyAllowPartial PropagationPolicy = "allow_partial"
)

// PropagationConfig configures a PropagationHandler.
type PropagationConfig struct {
	Policy        PropagationPolicy
	OnTaskFailure func(ctx context.Context, task *pipeline.Task, exec *pipeline.TaskExecution, err error) error
	CriticalTasks []string
}

// DefaultPropagationConfig returns the executor's fixed policy.
func DefaultPropagationConfig() *PropagationConfig {
	return &PropagationConfig{Policy: PropagationPolicySkipDownstream}
}

// PropagationHandler decides, per failed task, whether the run must stop
// and whether downstream tasks get skipped.
type PropagationHandler struct {
	config *PropagationConfig
}

// NewPropagationHandler creates a handler; a nil config uses the default.
func NewPropagationHandler(config *PropagationConfig) *PropagationHandler {
	if config == nil {
		config = DefaultPropagationConfig()
	}
	return &PropagationHandler{config: config}
}

// HandleTaskFailure runs the configured callback and applies the
// propagation policy, returning a non-nil error only when the failure must
// stop the whole run.
func (h *PropagationHandler) HandleTaskFailure(ctx context.Context, task *pipeline.Task, exec *pipeline.TaskExecution, err error) error {
	if h.config.OnTaskFailure != nil {
		if cbErr := h.config.OnTaskFailure(ctx, task, exec, err); cbErr != nil {
			return fmt.Errorf("task failure callback error: %w", cbErr)
		}
	}

	isCritical := h.isTaskCritical(task.ID)

	switch h.config.Policy {
	case PropagationPolicyFail:
		return fmt.Errorf("task %s failed, stopping pipeline run: %w", task.ID, err)
	case PropagationPolicySkipDownstream:
		if isCritical {
			return fmt.Errorf("critical task %s failed, stopping pipeline run: %w", task.ID, err)
		}
		return nil
	case PropagationPolicyAllowPartial:
		if isCritical {
			return fmt.Errorf("critical task %s failed, stopping pipeline run: %w", task.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown propagation policy: %s", h.config.Policy)
	}
}

// ShouldMarkDownstreamSkipped reports whether a failed task's not-yet-
// started descendants should be marked skipped under the active policy.
func (h *PropagationHandler) ShouldMarkDownstreamSkipped() bool {
	return h.config.Policy == PropagationPolicySkipDownstream || h.config.Policy == PropagationPolicyFail
}

func (h *PropagationHandler) isTaskCritical(taskID string) bool {
	for _, id := range h.config.CriticalTasks {
		if id == taskID {
			return true
		}
	}
	return false
}

// CanRunSucceed reports whether the run's final status may still be
// success given the current task executions.
func (h *PropagationHandler) CanRunSucceed(executions []pipeline.TaskExecution) bool {
	for _, te := range executions {
		if te.Status == pipeline.TaskFailed {
			return false
		}
	}
	return true
}
