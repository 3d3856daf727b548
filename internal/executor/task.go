package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arjunmehta/pipeworks/internal/errorhandling"
	"github.com/arjunmehta/pipeworks/internal/notifier"
	"github.com/arjunmehta/pipeworks/internal/registry"
	"github.com/arjunmehta/pipeworks/internal/retry"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// runTaskWithRetries owns a single task's complete lifecycle within a run,
// including every retry attempt. It acquires and releases the concurrency
// gate around each attempt so a task sleeping out its retry delay does not
// hold a slot other tasks are waiting on.
func (e *Executor) runTaskWithRetries(ctx context.Context, p *pipeline.Pipeline, task *pipeline.Task, run *pipeline.PipelineRun, mu *sync.Mutex, gate chan struct{}, log *logrus.Entry) {
	taskLog := log.WithFields(logrus.Fields{"task_id": task.ID, "plugin": task.Plugin})

	maxAttempts := 1
	var strategy retry.Strategy = retry.NewNoRetry()
	if task.Retry != nil && task.Retry.Attempts > 0 {
		maxAttempts = task.Retry.Attempts
		delay := task.Retry.Delay
		if delay <= 0 {
			delay = time.Second
		}
		strategy = retry.NewFixedDelay(delay, false)
	}

	mu.Lock()
	te := run.TaskExecutionByID(task.ID)
	mu.Unlock()
	if te == nil {
		return
	}

	dispatches := 0
	retryCfg := retry.NewConfig(maxAttempts, strategy).WithRetryCallback(func(attempt int, err error) {
		mu.Lock()
		te.Status = pipeline.TaskPending
		mu.Unlock()
		taskLog.WithError(err).WithField("attempt", attempt).Warn("task attempt failed")
	})

	result, err := retry.ExecuteWithValue(ctx, retryCfg, func() (pipeline.PluginResult, error) {
		dispatches++
		attempt := dispatches

		select {
		case gate <- struct{}{}:
		case <-ctx.Done():
			return pipeline.PluginResult{}, ctx.Err()
		}
		defer func() { <-gate }()

		mu.Lock()
		now := time.Now()
		te.Status = pipeline.TaskRunning
		te.Attempts = attempt
		if te.StartedAt == nil {
			te.StartedAt = &now
		}
		mu.Unlock()

		if attempt == 1 {
			e.notify(ctx, notifier.Event{Type: notifier.EventTaskStarted, PipelineName: p.Name, RunID: run.ID, TaskID: task.ID, Status: string(pipeline.TaskRunning)}, taskLog)
		}

		res, invokeErr := e.invoke(ctx, p, task, run, mu, taskLog)
		if invokeErr == nil && !res.Success {
			invokeErr = fmt.Errorf("%s", res.Error)
		}
		return res, invokeErr
	})

	completedAt := time.Now()

	if err == nil {
		mu.Lock()
		te.Status = pipeline.TaskSuccess
		te.CompletedAt = &completedAt
		successResult := result
		te.Result = &successResult
		mu.Unlock()
		taskLog.WithField("attempt", dispatches).Info("task succeeded")
		e.notify(ctx, notifier.Event{Type: notifier.EventTaskSucceeded, PipelineName: p.Name, RunID: run.ID, TaskID: task.ID, Status: string(pipeline.TaskSuccess)}, taskLog)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		mu.Lock()
		te.Status = pipeline.TaskCancelled
		te.Result = &pipeline.PluginResult{Success: false, Error: ctx.Err().Error()}
		mu.Unlock()
		return
	}

	mu.Lock()
	te.Status = pipeline.TaskFailed
	te.CompletedAt = &completedAt
	failedResult := result
	if failedResult.Error == "" {
		failedResult.Error = err.Error()
	}
	te.Result = &failedResult
	mu.Unlock()
	taskLog.WithField("attempts", dispatches).Error("task exhausted retries")
	e.notify(ctx, notifier.Event{Type: notifier.EventTaskFailed, PipelineName: p.Name, RunID: run.ID, TaskID: task.ID, Status: string(pipeline.TaskFailed), Message: failedResult.Error}, taskLog)
}

// invoke resolves the task's plugin and executes it once, bounded by the
// task's own timeout, then the pipeline's, then the executor default.
func (e *Executor) invoke(ctx context.Context, p *pipeline.Pipeline, task *pipeline.Task, run *pipeline.PipelineRun, mu *sync.Mutex, log *logrus.Entry) (pipeline.PluginResult, error) {
	plugin, ok := e.registry.Resolve(task.Plugin)
	if !ok {
		err := &errorhandling.ExecutionError{Reason: fmt.Sprintf("unresolved plugin %q for task %q", task.Plugin, task.ID)}
		return pipeline.PluginResult{Success: false, Error: err.Error()}, err
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.Timeout
	}
	if timeout <= 0 {
		timeout = e.config.DefaultTaskTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec := &registry.ExecutionContext{
		Pipeline:        p,
		Task:            task,
		ExecutionID:     run.ID,
		Logger:          log,
		State:           newStoreHandle(e.store, run.ID),
		PreviousResults: e.previousResults(run, mu),
		Variables:       p.Env,
	}

	result, err := plugin.Execute(taskCtx, task.Config, ec)
	if err != nil && ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		timeoutErr := &errorhandling.ExecutionError{Reason: fmt.Sprintf("task %q timed out after %s", task.ID, timeout)}
		return pipeline.PluginResult{Success: false, Error: timeoutErr.Error()}, timeoutErr
	}
	if err != nil {
		pluginErr := &errorhandling.PluginError{TaskID: task.ID, Cause: err}
		if result.Error == "" {
			result.Error = pluginErr.Error()
		}
		return result, pluginErr
	}
	return result, nil
}

// previousResults collects the results of every task execution that has
// already reached success, keyed by task id, so a plugin can reference an
// upstream task's output.
func (e *Executor) previousResults(run *pipeline.PipelineRun, mu *sync.Mutex) map[string]pipeline.PluginResult {
	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]pipeline.PluginResult)
	for _, te := range run.Tasks {
		if te.Status == pipeline.TaskSuccess && te.Result != nil {
			out[te.TaskID] = *te.Result
		}
	}
	return out
}
