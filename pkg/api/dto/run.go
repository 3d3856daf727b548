package dto

import (
	"time"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// TriggerRunRequest is the body of POST /api/v1/runs: an inline pipeline
// document plus the trigger to record against the resulting run. The
// trigger defaults to a "manual" one when omitted.
type TriggerRunRequest struct {
	Pipeline PipelineDTO `json:"pipeline" validate:"required"`
	Trigger  *TriggerDTO `json:"trigger,omitempty"`
}

// RunResponse summarizes a PipelineRun without its task executions.
type RunResponse struct {
	ID           string     `json:"id"`
	PipelineName string     `json:"pipelineName"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Trigger      TriggerDTO `json:"trigger"`
	Error        string     `json:"error,omitempty"`
}

// RunListResponse is a paginated list of runs.
type RunListResponse struct {
	Runs       []RunResponse  `json:"runs"`
	Pagination PaginationMeta `json:"pagination"`
}

// RunDetailResponse adds per-task execution records to RunResponse.
type RunDetailResponse struct {
	RunResponse
	Tasks []TaskExecutionResponse `json:"tasks"`
}

// ToRunResponse converts a pipeline.PipelineRun to a RunResponse.
func ToRunResponse(run *pipeline.PipelineRun) RunResponse {
	return RunResponse{
		ID:           run.ID,
		PipelineName: run.PipelineName,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		Trigger:      TriggerDTO{Type: string(run.Trigger.Type), Cron: run.Trigger.Cron, Webhook: run.Trigger.Webhook},
		Error:        run.Error,
	}
}

// ToRunDetailResponse converts a pipeline.PipelineRun into its full detail
// representation, including task executions.
func ToRunDetailResponse(run *pipeline.PipelineRun) RunDetailResponse {
	tasks := make([]TaskExecutionResponse, len(run.Tasks))
	for i, te := range run.Tasks {
		tasks[i] = ToTaskExecutionResponse(&te)
	}
	return RunDetailResponse{RunResponse: ToRunResponse(run), Tasks: tasks}
}
