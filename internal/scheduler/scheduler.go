// Package scheduler implements the cron-based Scheduler: it arms a timer
// per persisted SchedulerEntry and invokes the Pipeline Executor when a
// cron expression fires, enforcing that no entry runs twice concurrently.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arjunmehta/pipeworks/internal/errorhandling"
	"github.com/arjunmehta/pipeworks/internal/executor"
	"github.com/arjunmehta/pipeworks/internal/storage"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

// Config holds scheduler-wide defaults.
type Config struct {
	// DefaultTimezone is used for entries whose cron trigger omits one.
	DefaultTimezone string

	// HousekeepingInterval is how often cleanupOldRuns runs while started.
	HousekeepingInterval time.Duration

	// RetentionDays is passed to storage.Store.CleanupOldRuns.
	RetentionDays int
}

// DefaultConfig returns the scheduler's baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimezone:      "UTC",
		HousekeepingInterval: 24 * time.Hour,
		RetentionDays:        30,
	}
}

// Status is the best-effort snapshot getStatus returns.
type Status struct {
	Running    bool
	EntryCount int
	NextRuns   []NextRun
}

// NextRun pairs an entry id with its next scheduled fire time.
type NextRun struct {
	EntryID string
	At      time.Time
}

// Scheduler arms and fires cron-triggered pipeline runs.
type Scheduler struct {
	config   *Config
	store    storage.Store
	executor *executor.Executor
	lock     *EntryLock
	log      *logrus.Logger

	mu      sync.RWMutex
	running bool
	cron    *cronRunner
	house   *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler. lock may be nil, in which case a process-local
// EntryLock is created.
func New(store storage.Store, exec *executor.Executor, lock *EntryLock, config *Config, log *logrus.Logger) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if lock == nil {
		lock = NewEntryLock(nil, 0)
	}
	return &Scheduler{config: config, store: store, executor: exec, lock: lock, log: log}
}

// schedulerEntryKey namespaces a SchedulerEntry under the generic
// key/value surface.
func schedulerEntryKey(id string) string {
	return storage.SchedulerKeyPrefix + id
}

// SchedulePipeline registers p under a cron trigger, persists the entry,
// and arms its timer. Only cron triggers are accepted.
func (s *Scheduler) SchedulePipeline(ctx context.Context, p pipeline.Pipeline, trigger pipeline.Trigger) (string, error) {
	if trigger.Type != pipeline.TriggerCron || trigger.Cron == nil {
		return "", &errorhandling.ValidationError{Messages: []string{"schedulePipeline requires a cron trigger"}}
	}

	entry := pipeline.SchedulerEntry{
		ID:       uuid.New().String(),
		Pipeline: p,
		Trigger:  trigger,
		Enabled:  true,
	}
	if err := s.persistEntry(ctx, &entry); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		if err := s.arm(entry); err != nil {
			return "", err
		}
	}
	return entry.ID, nil
}

// UnschedulePipeline stops entryID's timer and removes it from memory and
// the State Store. It returns whether an entry was actually removed.
func (s *Scheduler) UnschedulePipeline(ctx context.Context, entryID string) (bool, error) {
	s.mu.Lock()
	if s.cron != nil {
		s.cron.disarm(entryID)
	}
	s.mu.Unlock()

	_, ok, err := s.store.Get(ctx, schedulerEntryKey(entryID))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := s.store.Delete(ctx, schedulerEntryKey(entryID)); err != nil {
		return false, err
	}
	return true, nil
}

// Start loads every persisted, enabled entry, re-arms its timer, starts
// the daily housekeeping timer, and marks the scheduler running. Calling
// Start twice is a no-op that logs a warning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("scheduler already running, ignoring start")
		return nil
	}

	loc, err := time.LoadLocation(s.config.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("loading default timezone %q: %w", s.config.DefaultTimezone, err)
	}
	s.cron = newCronRunner(loc)

	keys, err := s.store.List(ctx, storage.SchedulerKeyPrefix)
	if err != nil {
		return fmt.Errorf("listing scheduler entries: %w", err)
	}
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var entry pipeline.SchedulerEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("skipping malformed scheduler entry")
			continue
		}
		if !entry.Enabled {
			continue
		}
		if err := s.arm(entry); err != nil {
			s.log.WithError(err).WithField("entry_id", entry.ID).Warn("failed to arm scheduler entry")
		}
	}

	s.cron.start()
	s.stopCh = make(chan struct{})
	s.house = time.NewTicker(s.config.HousekeepingInterval)
	s.wg.Add(1)
	go s.housekeepingLoop(ctx)

	s.running = true
	s.log.WithField("entries", len(s.cron.armedEntries())).Info("scheduler started")
	return nil
}

// Stop stops every armed timer and the housekeeping timer, then marks the
// scheduler not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.house.Stop()
	cron := s.cron
	s.mu.Unlock()

	s.wg.Wait()
	if cron != nil {
		cron.stop()
	}
	s.log.Info("scheduler stopped")
}

// GetStatus returns a best-effort snapshot of the scheduler's state.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{Running: s.running}
	if s.cron == nil {
		return status
	}
	ids := s.cron.armedEntries()
	status.EntryCount = len(ids)

	runs := make([]NextRun, 0, len(ids))
	for _, id := range ids {
		runs = append(runs, NextRun{EntryID: id, At: s.cron.nextRun(id)})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].At.Before(runs[j].At) })
	if len(runs) > 5 {
		runs = runs[:5]
	}
	status.NextRuns = runs
	return status
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(entry pipeline.SchedulerEntry) error {
	expr := entry.Trigger.Cron.Expression
	return s.cron.arm(entry.ID, expr, entry.Trigger.Cron.Timezone, s.fire)
}

// fire runs when entryID's cron expression matches. A firing that arrives
// while the previous firing of the same entry is still running is
// dropped, never queued.
func (s *Scheduler) fire(entryID string) {
	ctx := context.Background()
	if !s.lock.TryAcquire(ctx, entryID) {
		s.log.WithField("entry_id", entryID).Warn("dropping firing, previous run still in flight")
		return
	}
	defer s.lock.Release(ctx, entryID)

	raw, ok, err := s.store.Get(ctx, schedulerEntryKey(entryID))
	if err != nil || !ok {
		s.log.WithField("entry_id", entryID).Warn("firing armed entry with no persisted record, skipping")
		return
	}
	var entry pipeline.SchedulerEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		s.log.WithError(err).WithField("entry_id", entryID).Warn("failed to decode scheduler entry")
		return
	}

	log := s.log.WithField("entry_id", entryID).WithField("pipeline", entry.Pipeline.Name)
	run, err := s.executor.ExecutePipeline(ctx, &entry.Pipeline, entry.Trigger)
	if err != nil {
		log.WithError(err).Error("scheduled run failed to complete")
		return
	}
	log.WithField("status", run.Status).WithField("run_id", run.ID).Info("scheduled run completed")
}

func (s *Scheduler) housekeepingLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.house.C:
			deleted, err := s.store.CleanupOldRuns(ctx, s.config.RetentionDays)
			if err != nil {
				s.log.WithError(err).Warn("housekeeping cleanup failed")
				continue
			}
			if deleted > 0 {
				s.log.WithField("deleted", deleted).Info("housekeeping cleaned up old runs")
			}
		}
	}
}

func (s *Scheduler) persistEntry(ctx context.Context, entry *pipeline.SchedulerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding scheduler entry: %w", err)
	}
	return s.store.Set(ctx, schedulerEntryKey(entry.ID), string(data))
}
