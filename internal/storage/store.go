// Package storage implements the State Store: a generic key/value surface
// plus pipeline run persistence, backed by either a single JSON document
// (FileStore) or Postgres via GORM (RelationalStore).
package storage

import (
	"context"
	"errors"

	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

var (
	// ErrNotFound is returned when a requested key or run does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the contract both backends implement.
type Store interface {
	// Get reads a generic key/value entry. ok is false when absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set upserts a generic key/value entry.
	Set(ctx context.Context, key, value string) error

	// Delete removes a key; it is not an error if the key is absent.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// SavePipelineRun upserts the run and every one of its task
	// executions atomically at the run level.
	SavePipelineRun(ctx context.Context, run *pipeline.PipelineRun) error

	// GetPipelineRun reconstructs a run with all of its tasks.
	GetPipelineRun(ctx context.Context, id string) (*pipeline.PipelineRun, error)

	// GetPipelineRuns returns runs for a pipeline, newest first, bounded
	// by limit (0 means the backend's default).
	GetPipelineRuns(ctx context.Context, pipelineName string, limit int) ([]*pipeline.PipelineRun, error)

	// CleanupOldRuns deletes runs started more than retentionDays ago,
	// cascading to their tasks, and returns the number deleted.
	CleanupOldRuns(ctx context.Context, retentionDays int) (int, error)
}

// DefaultRunsLimit is used by GetPipelineRuns when limit <= 0.
const DefaultRunsLimit = 100

// SchedulerKeyPrefix namespaces SchedulerEntry rows within the generic
// key/value surface.
const SchedulerKeyPrefix = "scheduler:job:"
