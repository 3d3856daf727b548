package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Notify(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestNotifier_BroadcastsToAllSinks(t *testing.T) {
	n := New()
	a, b := &recordingSink{}, &recordingSink{}
	n.Register("a", a)
	n.Register("b", b)

	err := n.Notify(context.Background(), Event{Type: EventRunStarted, RunID: "r1"})
	require.NoError(t, err)

	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
}

func TestNotifier_FiltersByEventType(t *testing.T) {
	n := New()
	failuresOnly := &recordingSink{}
	n.Register("failures", failuresOnly, EventRunFailed, EventTaskFailed)

	n.Notify(context.Background(), Event{Type: EventRunStarted, RunID: "r1"})
	n.Notify(context.Background(), Event{Type: EventRunFailed, RunID: "r1"})

	events := failuresOnly.received()
	require.Len(t, events, 1)
	assert.Equal(t, EventRunFailed, events[0].Type)
}

func TestNotifier_Unregister(t *testing.T) {
	n := New()
	sink := &recordingSink{}
	n.Register("s", sink)
	n.Unregister("s")

	n.Notify(context.Background(), Event{Type: EventRunStarted})

	assert.Empty(t, sink.received())
	assert.Empty(t, n.Names())
}

func TestNotifier_CollectsSinkErrorsWithoutShortCircuiting(t *testing.T) {
	n := New()
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	n.Register("failing", failing)
	n.Register("ok", ok)

	err := n.Notify(context.Background(), Event{Type: EventTaskFailed})

	assert.Error(t, err)
	assert.Len(t, ok.received(), 1)
	assert.Len(t, failing.received(), 1)
}

func TestNotifier_Names(t *testing.T) {
	n := New()
	n.Register("a", &recordingSink{})
	n.Register("b", &recordingSink{})

	assert.ElementsMatch(t, []string{"a", "b"}, n.Names())
}
