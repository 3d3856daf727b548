package dto

import (
	"time"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// RetryPolicyDTO mirrors pipeline.RetryPolicy over the wire.
type RetryPolicyDTO struct {
	Attempts int           `json:"attempts" validate:"min=0,max=20"`
	Delay    time.Duration `json:"delay" validate:"min=0"`
}

// TaskDTO represents a single task within a submitted pipeline document.
type TaskDTO struct {
	ID        string                 `json:"id" validate:"required"`
	Name      string                 `json:"name"`
	Plugin    string                 `json:"plugin" validate:"required"`
	Config    map[string]interface{} `json:"config"`
	DependsOn []string               `json:"dependsOn"`
	Retry     *RetryPolicyDTO        `json:"retry,omitempty"`
	Timeout   time.Duration          `json:"timeout,omitempty" validate:"min=0"`
	Enabled   *bool                  `json:"enabled,omitempty"`
}

// TriggerDTO represents a pipeline trigger declaration.
type TriggerDTO struct {
	Type    string                `json:"type" validate:"required,oneof=cron webhook manual"`
	Cron    *pipeline.CronConfig  `json:"cron,omitempty"`
	Webhook *pipeline.WebhookConfig `json:"webhook,omitempty"`
}

// PipelineDTO represents a pipeline definition submitted over HTTP.
type PipelineDTO struct {
	Name        string            `json:"name" validate:"required,min=1,max=255"`
	Version     string            `json:"version" validate:"required"`
	Description string            `json:"description,omitempty"`
	Tasks       []TaskDTO         `json:"tasks" validate:"required,min=1,dive"`
	Triggers    []TriggerDTO      `json:"triggers,omitempty" validate:"dive"`
	Concurrency int               `json:"concurrency,omitempty" validate:"min=0"`
	Timeout     time.Duration     `json:"timeout,omitempty" validate:"min=0"`
	Env         map[string]string `json:"env,omitempty"`
}

// ToPipeline converts a PipelineDTO into the domain type. It does not run
// structural validation; callers pass the result through internal/dag or
// internal/parser first.
func (p PipelineDTO) ToPipeline() pipeline.Pipeline {
	tasks := make([]pipeline.Task, len(p.Tasks))
	for i, t := range p.Tasks {
		enabled := true
		if t.Enabled != nil {
			enabled = *t.Enabled
		}
		var retry *pipeline.RetryPolicy
		if t.Retry != nil {
			retry = &pipeline.RetryPolicy{Attempts: t.Retry.Attempts, Delay: t.Retry.Delay}
		}
		config := t.Config
		if config == nil {
			config = map[string]interface{}{}
		}
		tasks[i] = pipeline.Task{
			ID:        t.ID,
			Name:      t.Name,
			Plugin:    t.Plugin,
			Config:    config,
			DependsOn: t.DependsOn,
			Retry:     retry,
			Timeout:   t.Timeout,
			Enabled:   enabled,
		}
	}

	triggers := make([]pipeline.Trigger, len(p.Triggers))
	for i, tr := range p.Triggers {
		triggers[i] = pipeline.Trigger{
			Type:    pipeline.TriggerType(tr.Type),
			Cron:    tr.Cron,
			Webhook: tr.Webhook,
		}
	}

	return pipeline.Pipeline{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Tasks:       tasks,
		Triggers:    triggers,
		Concurrency: p.Concurrency,
		Timeout:     p.Timeout,
		Env:         p.Env,
	}
}

// FromPipeline converts a domain Pipeline back into its DTO for responses.
func FromPipeline(p pipeline.Pipeline) PipelineDTO {
	tasks := make([]TaskDTO, len(p.Tasks))
	for i, t := range p.Tasks {
		enabled := t.Enabled
		var retry *RetryPolicyDTO
		if t.Retry != nil {
			retry = &RetryPolicyDTO{Attempts: t.Retry.Attempts, Delay: t.Retry.Delay}
		}
		tasks[i] = TaskDTO{
			ID:        t.ID,
			Name:      t.Name,
			Plugin:    t.Plugin,
			Config:    t.Config,
			DependsOn: t.DependsOn,
			Retry:     retry,
			Timeout:   t.Timeout,
			Enabled:   &enabled,
		}
	}

	triggers := make([]TriggerDTO, len(p.Triggers))
	for i, tr := range p.Triggers {
		triggers[i] = TriggerDTO{Type: string(tr.Type), Cron: tr.Cron, Webhook: tr.Webhook}
	}

	return PipelineDTO{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Tasks:       tasks,
		Triggers:    triggers,
		Concurrency: p.Concurrency,
		Timeout:     p.Timeout,
		Env:         p.Env,
	}
}

// ValidatePipelineRequest is the body of POST /api/v1/pipelines/validate.
type ValidatePipelineRequest struct {
	Document string `json:"document" validate:"required"`
}

// ValidatePipelineResponse reports the parser's ordered rule-list findings.
type ValidatePipelineResponse struct {
	Valid    bool         `json:"valid"`
	Pipeline *PipelineDTO `json:"pipeline,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
}
