package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta/pipeworks/internal/executor"
	"github.com/arjunmehta/pipeworks/internal/registry"
	"github.com/arjunmehta/pipeworks/internal/scheduler"
	"github.com/arjunmehta/pipeworks/internal/storage"
	"github.com/arjunmehta/pipeworks/pkg/pipeline"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, storage.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	reg := registry.New(testLogger())
	require.NoError(t, reg.Register(noopPlugin{}))

	exec := executor.New(reg, store, nil, nil, nil, nil, testLogger())
	sched := scheduler.New(store, exec, nil, nil, testLogger())
	return sched, store
}

type noopPlugin struct{}

func (noopPlugin) Name() string    { return "test" }
func (noopPlugin) Version() string { return "1.0.0" }
func (noopPlugin) Execute(ctx context.Context, config map[string]interface{}, ec *registry.ExecutionContext) (pipeline.PluginResult, error) {
	return pipeline.PluginResult{Success: true}, nil
}

func samplePipeline() pipeline.Pipeline {
	return pipeline.Pipeline{
		Name:    "nightly",
		Version: "1",
		Tasks: []pipeline.Task{
			{ID: "run", Plugin: "test", Enabled: true},
		},
	}
}

func TestSchedulePipeline_RequiresCronTrigger(t *testing.T) {
	sched, _ := newTestScheduler(t)
	_, err := sched.SchedulePipeline(context.Background(), samplePipeline(), pipeline.Trigger{Type: pipeline.TriggerManual})
	assert.Error(t, err)
}

func TestSchedulePipeline_PersistsAndArms(t *testing.T) {
	sched, store := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	entryID, err := sched.SchedulePipeline(context.Background(), samplePipeline(), pipeline.Trigger{
		Type: pipeline.TriggerCron,
		Cron: &pipeline.CronConfig{Expression: "0 0 * * *"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entryID)

	_, ok, err := store.Get(context.Background(), "scheduler:job:"+entryID)
	require.NoError(t, err)
	assert.True(t, ok)

	status := sched.GetStatus()
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.EntryCount)
}

func TestUnschedulePipeline_RemovesEntry(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	entryID, err := sched.SchedulePipeline(context.Background(), samplePipeline(), pipeline.Trigger{
		Type: pipeline.TriggerCron,
		Cron: &pipeline.CronConfig{Expression: "0 0 * * *"},
	})
	require.NoError(t, err)

	removed, err := sched.UnschedulePipeline(context.Background(), entryID)
	require.NoError(t, err)
	assert.True(t, removed)

	removedAgain, err := sched.UnschedulePipeline(context.Background(), entryID)
	require.NoError(t, err)
	assert.False(t, removedAgain)

	status := sched.GetStatus()
	assert.Equal(t, 0, status.EntryCount)
}

func TestSchedulePipeline_HonorsEntryTimezoneOverride(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	entryID, err := sched.SchedulePipeline(context.Background(), samplePipeline(), pipeline.Trigger{
		Type: pipeline.TriggerCron,
		Cron: &pipeline.CronConfig{Expression: "0 9 * * *", Timezone: "America/New_York"},
	})
	require.NoError(t, err)

	status := sched.GetStatus()
	require.Len(t, status.NextRuns, 1)
	assert.Equal(t, entryID, status.NextRuns[0].EntryID)

	nyLoc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, 9, status.NextRuns[0].At.In(nyLoc).Hour())
}

func TestStart_IsIdempotent(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()
	require.NoError(t, sched.Start(context.Background()))
	assert.True(t, sched.GetStatus().Running)
}

func TestEntryLock_DropsConcurrentFiring(t *testing.T) {
	lock := scheduler.NewEntryLock(nil, time.Second)
	ctx := context.Background()
	assert.True(t, lock.TryAcquire(ctx, "entry-1"))
	assert.False(t, lock.TryAcquire(ctx, "entry-1"), "second acquire while first is in flight must be dropped")
	lock.Release(ctx, "entry-1")
	assert.True(t, lock.TryAcquire(ctx, "entry-1"))
}
