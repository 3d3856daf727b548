// Package pipeline holds the data model shared by the parser, executor,
// scheduler and state store: Pipeline, Task, runtime execution records and
// their status enums.
package pipeline

import "time"

// TaskState is the lifecycle status of a single TaskExecution.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSuccess   TaskState = "success"
	TaskFailed    TaskState = "failed"
	TaskSkipped   TaskState = "skipped"
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal reports whether the state will never change again on its own.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSuccess, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	default:
		return false
	}
}

// RunState is the lifecycle status of a PipelineRun.
type RunState string

const (
	RunRunning        RunState = "running"
	RunSuccess        RunState = "success"
	RunFailed         RunState = "failed"
	RunCancelled      RunState = "cancelled"
	RunPartialSuccess RunState = "partial_success"
)

// TriggerType identifies the tagged variant of a Trigger.
type TriggerType string

const (
	TriggerCron    TriggerType = "cron"
	TriggerWebhook TriggerType = "webhook"
	TriggerManual  TriggerType = "manual"
)

// CronConfig is the configuration payload for a cron Trigger.
type CronConfig struct {
	Expression string `json:"expression" yaml:"expression"`
	Timezone   string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// WebhookConfig is the configuration payload for a webhook Trigger.
type WebhookConfig struct {
	Path   string `json:"path" yaml:"path"`
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Trigger is a tagged variant over {cron, webhook, manual}. Only one of
// Cron/Webhook is populated, selected by Type.
type Trigger struct {
	Type    TriggerType    `json:"type" yaml:"type"`
	Cron    *CronConfig    `json:"cron,omitempty" yaml:"cron,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// RetryPolicy governs how many times, and after what delay, a failed task
// is re-dispatched.
type RetryPolicy struct {
	Attempts int           `json:"attempts" yaml:"attempts"`
	Delay    time.Duration `json:"delay" yaml:"delay"`
}

// Task is an immutable unit of work within a Pipeline, once returned by the
// parser. Its Config is opaque and handed verbatim to the resolved plugin.
type Task struct {
	ID        string                 `json:"id" yaml:"id"`
	Name      string                 `json:"name" yaml:"name"`
	Plugin    string                 `json:"plugin" yaml:"plugin"`
	Config    map[string]interface{} `json:"config" yaml:"config"`
	DependsOn []string               `json:"dependsOn" yaml:"dependsOn"`
	Retry     *RetryPolicy           `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout   time.Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Enabled   bool                   `json:"enabled" yaml:"enabled"`
}

// Pipeline is the immutable, validated definition of a DAG of tasks.
type Pipeline struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version" yaml:"version"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks       []Task            `json:"tasks" yaml:"tasks"`
	Triggers    []Trigger         `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Concurrency int               `json:"concurrency" yaml:"concurrency"`
	Timeout     time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// DefaultConcurrency is applied when a Pipeline document omits concurrency.
const DefaultConcurrency = 5

// TaskByID returns the task with the given id, or false if none exists.
func (p *Pipeline) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// PluginResult is what a plugin's Execute call returns.
type PluginResult struct {
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TaskExecution is the mutable runtime record of one task within one run.
type TaskExecution struct {
	TaskID      string        `json:"taskId"`
	TaskName    string        `json:"taskName"`
	Status      TaskState     `json:"status"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Attempts    int           `json:"attempts"`
	Result      *PluginResult `json:"result,omitempty"`
}

// PipelineRun is the mutable record of one pipeline execution.
type PipelineRun struct {
	ID           string          `json:"id"`
	PipelineName string          `json:"pipelineName"`
	Status       RunState        `json:"status"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Tasks        []TaskExecution `json:"tasks"`
	Trigger      Trigger         `json:"trigger"`
	Error        string          `json:"error,omitempty"`
}

// TaskExecutionByID returns a pointer to the run's execution record for the
// given task id, so callers can mutate it in place.
func (r *PipelineRun) TaskExecutionByID(taskID string) *TaskExecution {
	for i := range r.Tasks {
		if r.Tasks[i].TaskID == taskID {
			return &r.Tasks[i]
		}
	}
	return nil
}

// SchedulerEntry is a persisted cron registration: a pipeline snapshot plus
// the trigger that arms it.
type SchedulerEntry struct {
	ID       string   `json:"id"`
	Pipeline Pipeline `json:"pipeline"`
	Trigger  Trigger  `json:"trigger"`
	Enabled  bool     `json:"enabled"`
}
