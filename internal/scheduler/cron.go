package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// FireFunc is invoked when an armed entry's cron expression matches.
type FireFunc func(entryID string)

// cronRunner wraps robfig/cron's standard five-field parser (minute, hour,
// day-of-month, month, day-of-week — no seconds field), arming and
// disarming timers per scheduler entry.
type cronRunner struct {
	c        *cron.Cron
	mu       sync.RWMutex
	entryIDs map[string]cron.EntryID // scheduler entry id -> cron.EntryID
}

func newCronRunner(loc *time.Location) *cronRunner {
	if loc == nil {
		loc = time.UTC
	}
	return &cronRunner{
		c:        cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow))),
		entryIDs: make(map[string]cron.EntryID),
	}
}

func (r *cronRunner) start() { r.c.Start() }

func (r *cronRunner) stop() {
	ctx := r.c.Stop()
	<-ctx.Done()
}

// arm schedules fire(entryID) according to expression, five-field standard
// cron syntax. timezone overrides the runner's default location for this
// entry only, via robfig/cron's "CRON_TZ=" schedule prefix; an empty
// timezone leaves the entry on the runner's default.
func (r *cronRunner) arm(entryID, expression, timezone string, fire FireFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entryIDs[entryID]; exists {
		return fmt.Errorf("entry %s is already armed", entryID)
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		expression = fmt.Sprintf("CRON_TZ=%s %s", timezone, expression)
	}
	id, err := r.c.AddFunc(expression, func() { fire(entryID) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	r.entryIDs[entryID] = id
	return nil
}

// disarm removes entryID's timer, if any.
func (r *cronRunner) disarm(entryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, exists := r.entryIDs[entryID]; exists {
		r.c.Remove(id)
		delete(r.entryIDs, entryID)
	}
}

// nextRun returns the next fire time for entryID, or the zero time if it
// is not armed.
func (r *cronRunner) nextRun(entryID string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, exists := r.entryIDs[entryID]
	if !exists {
		return time.Time{}
	}
	return r.c.Entry(id).Next
}

// armedEntries returns every currently armed entry id.
func (r *cronRunner) armedEntries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entryIDs))
	for id := range r.entryIDs {
		ids = append(ids, id)
	}
	return ids
}
