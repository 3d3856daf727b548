// Package executor implements the Pipeline Executor: level-by-level
// dispatch of ready tasks under a bounded concurrency gate, with per-task
// retry handling, timeout enforcement, and downstream failure propagation.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arjunmehta/pipeworks/internal/dag"
	"github.com/arjunmehta/pipeworks/internal/dlq"
	"github.com/arjunmehta/pipeworks/internal/errorhandling"
	"github.com/arjunmehta/pipeworks/internal/notifier"
	"github.com/arjunmehta/pipeworks/internal/registry"
	"github.com/arjunmehta/pipeworks/internal/state"
	"github.com/arjunmehta/pipeworks/internal/storage"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// DefaultConcurrency is used when a pipeline document omits concurrency or
// sets a non-positive value.
const DefaultConcurrency = pipeline.DefaultConcurrency

// DefaultTaskTimeout bounds a task invocation when neither the task nor
// the pipeline sets one.
const DefaultTaskTimeout = 15 * time.Minute

// Config holds executor-wide defaults, overridden per pipeline/task where
// the document specifies them.
type Config struct {
	DefaultConcurrency int
	DefaultTaskTimeout time.Duration
}

// DefaultConfig returns the executor's baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultConcurrency: DefaultConcurrency,
		DefaultTaskTimeout: DefaultTaskTimeout,
	}
}

// Executor runs pipelines to completion, dispatching ready tasks under a
// concurrency gate and recording every transition to the State Store.
type Executor struct {
	registry    *registry.Registry
	store       storage.Store
	stateMgr    *state.Manager
	propagation *errorhandling.PropagationHandler
	dlqManager  *dlq.Manager
	notifier    *notifier.Notifier
	config      *Config
	log         *logrus.Logger

	// cancelFlags holds one *int32 per in-flight run id, set to 1 by
	// Cancel. ExecutePipeline consults it between dispatch waves rather
	// than threading a cancellable context into invoke, since
	// cancellation must not forcibly abort a task already running —
	// only refuse to start the next wave.
	cancelFlags sync.Map
}

// New creates an Executor. stateMgr, dlqManager, and notif may all be nil;
// a nil notif simply means no lifecycle events are emitted.
func New(reg *registry.Registry, store storage.Store, stateMgr *state.Manager, dlqManager *dlq.Manager, notif *notifier.Notifier, config *Config, log *logrus.Logger) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if stateMgr == nil {
		stateMgr = state.NewManager(nil)
	}
	return &Executor{
		registry:    reg,
		store:       store,
		stateMgr:    stateMgr,
		propagation: errorhandling.NewPropagationHandler(errorhandling.DefaultPropagationConfig()),
		dlqManager:  dlqManager,
		notifier:    notif,
		config:      config,
		log:         log,
	}
}

// notify delivers a lifecycle event to every registered sink. A nil
// notifier or a delivery failure is logged at debug level and never
// affects the run itself.
func (e *Executor) notify(ctx context.Context, event notifier.Event, log *logrus.Entry) {
	if e.notifier == nil {
		return
	}
	event.Timestamp = time.Now()
	if err := e.notifier.Notify(ctx, event); err != nil {
		log.WithError(err).Debug("failed to deliver lifecycle notification")
	}
}

// Cancel requests cancellation of the in-flight run runID. It does not
// abort any task currently executing — the run finishes its current
// dispatch wave, then refuses to start the next one and finalizes as
// pipeline.RunCancelled. It returns an error if runID is not currently
// executing.
func (e *Executor) Cancel(runID string) error {
	v, ok := e.cancelFlags.Load(runID)
	if !ok {
		return fmt.Errorf("run %s is not currently executing", runID)
	}
	atomic.StoreInt32(v.(*int32), 1)
	return nil
}

// ExecutePipeline runs p to completion under a fresh run id and returns the
// resulting PipelineRun, whose Status is always terminal. It only returns a
// non-nil error for a programmer-visible failure such as a scheduling
// deadlock; task-level failures are recorded on the run instead.
func (e *Executor) ExecutePipeline(ctx context.Context, p *pipeline.Pipeline, trigger pipeline.Trigger) (*pipeline.PipelineRun, error) {
	runID := uuid.New().String()
	log := e.log.WithFields(logrus.Fields{"run_id": runID, "pipeline": p.Name})

	run := &pipeline.PipelineRun{
		ID:           runID,
		PipelineName: p.Name,
		Status:       pipeline.RunRunning,
		StartedAt:    time.Now(),
		Trigger:      trigger,
	}
	for _, t := range p.Tasks {
		status := pipeline.TaskPending
		if !t.Enabled {
			status = pipeline.TaskSkipped
		}
		run.Tasks = append(run.Tasks, pipeline.TaskExecution{TaskID: t.ID, TaskName: t.Name, Status: status})
	}

	e.publishRunTransition(run.ID, "", pipeline.RunRunning, log)
	e.notify(ctx, notifier.Event{Type: notifier.EventRunStarted, PipelineName: p.Name, RunID: run.ID, Status: string(run.Status)}, log)
	if err := e.persist(ctx, run); err != nil {
		log.WithError(err).Warn("failed to persist run at start")
	}

	g := dag.NewGraph(p)
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = e.config.DefaultConcurrency
	}
	gate := make(chan struct{}, concurrency)

	var mu sync.Mutex
	pending := make(map[string]bool)
	for _, id := range g.TaskIDs() {
		if te := run.TaskExecutionByID(id); te != nil && te.Status == pipeline.TaskPending {
			pending[id] = true
		}
	}

	cancelFlag := new(int32)
	e.cancelFlags.Store(run.ID, cancelFlag)
	defer e.cancelFlags.Delete(run.ID)

	var runErr error
	anyFailed := false
	wasCancelled := false

	for {
		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			break
		}
		if atomic.LoadInt32(cancelFlag) != 0 {
			wasCancelled = true
			for id := range pending {
				if te := run.TaskExecutionByID(id); te != nil && te.Status == pipeline.TaskPending {
					te.Status = pipeline.TaskCancelled
				}
			}
			pending = make(map[string]bool)
			mu.Unlock()
			log.Info("run cancellation requested, refusing to dispatch further tasks")
			break
		}
		ready := g.Ready(pending, satisfiedSet(run))
		mu.Unlock()

		if len(ready) == 0 {
			mu.Lock()
			stuck := make([]string, 0, len(pending))
			for id := range pending {
				stuck = append(stuck, id)
			}
			mu.Unlock()
			runErr = &errorhandling.ExecutionError{Reason: fmt.Sprintf("graph deadlocked, tasks never became ready: %v", stuck)}
			log.WithError(runErr).Error("scheduling deadlock")
			break
		}

		var wg sync.WaitGroup
		for _, taskID := range ready {
			mu.Lock()
			delete(pending, taskID)
			mu.Unlock()

			task, err := g.GetTask(taskID)
			if err != nil {
				continue
			}

			wg.Add(1)
			go func(task *pipeline.Task) {
				defer wg.Done()
				e.runOne(ctx, p, task, run, &mu, gate, g, pending, log)
			}(task)
		}
		wg.Wait()

		mu.Lock()
		for _, te := range run.Tasks {
			if te.Status == pipeline.TaskFailed {
				anyFailed = true
			}
		}
		mu.Unlock()

		if err := e.persist(ctx, run); err != nil {
			log.WithError(err).Warn("failed to persist run mid-execution")
		}
	}

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	prevStatus := run.Status
	run.Status = e.finalStatus(run, anyFailed, wasCancelled)
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := e.persist(ctx, run); err != nil {
		log.WithError(err).Warn("failed to persist run at completion")
	}
	e.publishRunTransition(run.ID, prevStatus, run.Status, log)

	runEventType := notifier.EventRunSucceeded
	switch run.Status {
	case pipeline.RunSuccess:
		runEventType = notifier.EventRunSucceeded
	case pipeline.RunCancelled:
		runEventType = notifier.EventRunCancelled
	default:
		runEventType = notifier.EventRunFailed
	}
	e.notify(ctx, notifier.Event{Type: runEventType, PipelineName: p.Name, RunID: run.ID, Status: string(run.Status), Message: run.Error}, log)

	log.WithField("status", run.Status).Info("pipeline run completed")
	return run, runErr
}

// runOne drives one task through completion (including all its retries)
// and then applies failure propagation, marking descendants skipped and
// filing the task in the dead letter queue if it exhausted its retries.
func (e *Executor) runOne(ctx context.Context, p *pipeline.Pipeline, task *pipeline.Task, run *pipeline.PipelineRun, mu *sync.Mutex, gate chan struct{}, g *dag.Graph, pending map[string]bool, log *logrus.Entry) {
	e.runTaskWithRetries(ctx, p, task, run, mu, gate, log)

	mu.Lock()
	te := run.TaskExecutionByID(task.ID)
	var teCopy pipeline.TaskExecution
	isFailed := te != nil && te.Status == pipeline.TaskFailed
	if te != nil {
		teCopy = *te
	}
	mu.Unlock()

	if !isFailed {
		return
	}

	failureErr := fmt.Errorf("%s", teCopy.Result.Error)
	if stopErr := e.propagation.HandleTaskFailure(ctx, task, &teCopy, failureErr); stopErr != nil {
		log.WithError(stopErr).Warn("critical task failure, run cannot succeed")
	}

	if e.propagation.ShouldMarkDownstreamSkipped() {
		e.skipDescendants(g, task.ID, run, pending, mu, log)
	}

	if e.dlqManager != nil {
		if err := e.dlqManager.AddFailedTask(ctx, run.ID, &teCopy, p.Name, failureErr); err != nil {
			log.WithError(err).Warn("failed to record task in dead letter queue")
		}
	}
}

// satisfiedSet must only be called with the caller's mutex held; it exists
// to keep the main scheduling loop's locking sections short.
func satisfiedSet(run *pipeline.PipelineRun) map[string]bool {
	s := make(map[string]bool)
	for _, te := range run.Tasks {
		if te.Status == pipeline.TaskSuccess || te.Status == pipeline.TaskSkipped {
			s[te.TaskID] = true
		}
	}
	return s
}

// finalStatus applies the run status precedence table: failed beats
// cancelled (every task skipped, or an explicit Cancel call cut the run
// short) beats running (should not occur once the scheduling loop
// exits) beats success.
func (e *Executor) finalStatus(run *pipeline.PipelineRun, anyFailed, wasCancelled bool) pipeline.RunState {
	allSkipped := len(run.Tasks) > 0
	anyRunning := false
	for _, te := range run.Tasks {
		if te.Status == pipeline.TaskFailed {
			anyFailed = true
		}
		if te.Status != pipeline.TaskSkipped {
			allSkipped = false
		}
		if te.Status == pipeline.TaskRunning || te.Status == pipeline.TaskPending {
			anyRunning = true
		}
	}
	switch {
	case anyFailed:
		return pipeline.RunFailed
	case allSkipped, wasCancelled:
		return pipeline.RunCancelled
	case anyRunning:
		return pipeline.RunRunning
	default:
		return pipeline.RunSuccess
	}
}

// skipDescendants marks every not-yet-dispatched descendant of a failed
// task as skipped, so the next Ready() computation never releases them.
func (e *Executor) skipDescendants(g *dag.Graph, taskID string, run *pipeline.PipelineRun, pending map[string]bool, mu *sync.Mutex, log *logrus.Entry) {
	descendants, err := g.GetDownstreamTasks(taskID)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	for _, id := range descendants {
		if !pending[id] {
			continue
		}
		te := run.TaskExecutionByID(id)
		if te == nil || te.Status != pipeline.TaskPending {
			continue
		}
		te.Status = pipeline.TaskSkipped
		te.Result = &pipeline.PluginResult{Success: false, Error: fmt.Sprintf("skipped: ancestor task %q failed", taskID)}
		delete(pending, id)
		log.WithField("task_id", id).Info("skipping task due to failed ancestor")
	}
}

// persist saves the run, logging and retrying once on failure per the
// state-error handling rule.
func (e *Executor) persist(ctx context.Context, run *pipeline.PipelineRun) error {
	if err := e.store.SavePipelineRun(ctx, run); err != nil {
		stateErr := &errorhandling.StateError{Op: "SavePipelineRun", Cause: err}
		e.log.WithError(stateErr).Warn("state store operation failed, retrying once")
		return e.store.SavePipelineRun(ctx, run)
	}
	return nil
}

func (e *Executor) publishRunTransition(runID string, from, to pipeline.RunState, log *logrus.Entry) {
	if err := e.stateMgr.PublishRunTransition(runID, from, to, nil); err != nil {
		log.WithError(err).Debug("failed to publish run transition event")
	}
}
