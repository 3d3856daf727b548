package dto

import (
	"time"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// TaskExecutionResponse represents the runtime record of one task within a
// run.
type TaskExecutionResponse struct {
	TaskID      string      `json:"taskId"`
	TaskName    string      `json:"taskName"`
	Status      string      `json:"status"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Attempts    int         `json:"attempts"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ToTaskExecutionResponse converts a pipeline.TaskExecution to its DTO.
func ToTaskExecutionResponse(te *pipeline.TaskExecution) TaskExecutionResponse {
	resp := TaskExecutionResponse{
		TaskID:      te.TaskID,
		TaskName:    te.TaskName,
		Status:      string(te.Status),
		StartedAt:   te.StartedAt,
		CompletedAt: te.CompletedAt,
		Attempts:    te.Attempts,
	}
	if te.Result != nil {
		resp.Output = te.Result.Output
		resp.Error = te.Result.Error
	}
	return resp
}
