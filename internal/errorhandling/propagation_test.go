package errorhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

func TestPropagationHandler_HandleTaskFailure_FailPolicy(t *testing.T) {
	config := &PropagationConfig{Policy: PropagationPolicyFail}
	handler := NewPropagationHandler(config)

	task := &pipeline.Task{ID: "task1", Name: "Task 1"}
	exec := &pipeline.TaskExecution{TaskID: "task1", Status: pipeline.TaskFailed}
	err := errors.New("task error")

	resultErr := handler.HandleTaskFailure(context.Background(), task, exec, err)
	if resultErr == nil {
		t.Error("Expected error for fail policy, got nil")
	}
}

func TestPropagationHandler_HandleTaskFailure_SkipDownstreamPolicy(t *testing.T) {
	config := &PropagationConfig{Policy: PropagationPolicySkipDownstream}
	handler := NewPropagationHandler(config)

	task := &pipeline.Task{ID: "task1", Name: "Task 1"}
	exec := &pipeline.TaskExecution{TaskID: "task1", Status: pipeline.TaskFailed}
	err := errors.New("task error")

	resultErr := handler.HandleTaskFailure(context.Background(), task, exec, err)
	if resultErr != nil {
		t.Errorf("Expected nil error for skip downstream policy on non-critical task, got %v", resultErr)
	}
}

func TestPropagationHandler_HandleTaskFailure_AllowPartialPolicy(t *testing.T) {
	config := &PropagationConfig{Policy: PropagationPolicyAllowPartial}
	handler := NewPropagationHandler(config)

	task := &pipeline.Task{ID: "task1", Name: "Task 1"}
	exec := &pipeline.TaskExecution{TaskID: "task1", Status: pipeline.TaskFailed}
	err := errors.New("task error")

	resultErr := handler.HandleTaskFailure(context.Background(), task, exec, err)
	if resultErr != nil {
		t.Errorf("Expected nil error for allow partial policy, got %v", resultErr)
	}
}

func TestPropagationHandler_HandleTaskFailure_CriticalTask(t *testing.T) {
	config := &PropagationConfig{
		Policy:        PropagationPolicyAllowPartial,
		CriticalTasks: []string{"task1"},
	}
	handler := NewPropagationHandler(config)

	task := &pipeline.Task{ID: "task1", Name: "Task 1"}
	exec := &pipeline.TaskExecution{TaskID: "task1", Status: pipeline.TaskFailed}
	err := errors.New("task error")

	resultErr := handler.HandleTaskFailure(context.Background(), task, exec, err)
	if resultErr == nil {
		t.Error("Expected error for critical task failure, got nil")
	}
}

func TestPropagationHandler_HandleTaskFailure_WithCallback(t *testing.T) {
	callbackCalled := false
	config := &PropagationConfig{
		Policy: PropagationPolicySkipDownstream,
		OnTaskFailure: func(ctx context.Context, task *pipeline.Task, exec *pipeline.TaskExecution, err error) error {
			callbackCalled = true
			return nil
		},
	}
	handler := NewPropagationHandler(config)

	task := &pipeline.Task{ID: "task1", Name: "Task 1"}
	exec := &pipeline.TaskExecution{TaskID: "task1", Status: pipeline.TaskFailed}
	err := errors.New("task error")

	handler.HandleTaskFailure(context.Background(), task, exec, err)

	if !callbackCalled {
		t.Error("Task failure callback was not called")
	}
}

func TestPropagationHandler_HandleTaskFailure_CallbackError(t *testing.T) {
	config := &PropagationConfig{
		Policy: PropagationPolicySkipDownstream,
		OnTaskFailure: func(ctx context.Context, task *pipeline.Task, exec *pipeline.TaskExecution, err error) error {
			return errors.New("callback failed")
		},
	}
	handler := NewPropagationHandler(config)

	task := &pipeline.Task{ID: "task1"}
	exec := &pipeline.TaskExecution{TaskID: "task1", Status: pipeline.TaskFailed}
	err := errors.New("task error")

	resultErr := handler.HandleTaskFailure(context.Background(), task, exec, err)
	if resultErr == nil {
		t.Error("Expected error when callback fails, got nil")
	}
}

func TestPropagationHandler_ShouldMarkDownstreamSkipped(t *testing.T) {
	tests := []struct {
		name     string
		policy   PropagationPolicy
		expected bool
	}{
		{"fail policy", PropagationPolicyFail, true},
		{"skip downstream policy", PropagationPolicySkipDownstream, true},
		{"allow partial policy", PropagationPolicyAllowPartial, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPropagationHandler(&PropagationConfig{Policy: tt.policy})
			result := handler.ShouldMarkDownstreamSkipped()
			if result != tt.expected {
				t.Errorf("ShouldMarkDownstreamSkipped() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestPropagationHandler_CanRunSucceed(t *testing.T) {
	tests := []struct {
		name       string
		executions []pipeline.TaskExecution
		expected   bool
	}{
		{
			name: "all tasks succeeded",
			executions: []pipeline.TaskExecution{
				{TaskID: "task1", Status: pipeline.TaskSuccess},
				{TaskID: "task2", Status: pipeline.TaskSuccess},
			},
			expected: true,
		},
		{
			name: "one task failed",
			executions: []pipeline.TaskExecution{
				{TaskID: "task1", Status: pipeline.TaskSuccess},
				{TaskID: "task2", Status: pipeline.TaskFailed},
			},
			expected: false,
		},
		{
			name: "one task skipped, none failed",
			executions: []pipeline.TaskExecution{
				{TaskID: "task1", Status: pipeline.TaskSuccess},
				{TaskID: "task2", Status: pipeline.TaskSkipped},
			},
			expected: true,
		},
	}

	handler := NewPropagationHandler(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := handler.CanRunSucceed(tt.executions)
			if result != tt.expected {
				t.Errorf("CanRunSucceed() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestDefaultPropagationConfig(t *testing.T) {
	config := DefaultPropagationConfig()
	if config.Policy != PropagationPolicySkipDownstream {
		t.Errorf("Expected default policy skip_downstream, got %s", config.Policy)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Messages: []string{"task a: unknown dependency b"}}
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should unwrap to ErrValidation")
	}
	if err.Error() == "" {
		t.Error("ValidationError.Error() should not be empty")
	}
}

func TestPluginError(t *testing.T) {
	cause := errors.New("plugin exec failed")
	err := &PluginError{TaskID: "task1", Cause: cause}
	if !errors.Is(err, ErrPlugin) {
		t.Error("PluginError should match ErrPlugin via Is")
	}
}

func TestPluginError_UnwrapsToCause(t *testing.T) {
	err := &PluginError{TaskID: "task1", Cause: context.DeadlineExceeded}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("PluginError should also unwrap to its Cause, not just ErrPlugin")
	}
	if !errors.Is(err, ErrPlugin) {
		t.Error("PluginError should still match ErrPlugin via Is")
	}

	var target *net.DNSError
	wrapped := &PluginError{TaskID: "task2", Cause: fmt.Errorf("dial: %w", &net.DNSError{Err: "no such host"})}
	if !errors.As(wrapped, &target) {
		t.Error("errors.As should traverse PluginError.Unwrap to reach the wrapped *net.DNSError")
	}
}

func TestExecutionError(t *testing.T) {
	err := &ExecutionError{Reason: "graph deadlocked"}
	if !errors.Is(err, ErrExecution) {
		t.Error("ExecutionError should unwrap to ErrExecution")
	}
}

func TestStateError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StateError{Op: "SaveRun", Cause: cause}
	if !errors.Is(err, ErrState) {
		t.Error("StateError should match ErrState via Is")
	}
}

func TestStateError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StateError{Op: "SaveRun", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("StateError should also unwrap to its Cause, not just ErrState")
	}
	if !errors.Is(err, ErrState) {
		t.Error("StateError should still match ErrState via Is")
	}
}
