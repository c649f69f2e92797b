package attempts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quorumid/stepauth/events"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Publish(event events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) all() []events.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Event, len(n.events))
	copy(out, n.events)
	return out
}

func TestTrackerCountsWithinWindow(t *testing.T) {
	tracker := NewTracker(time.Minute, 10, events.NoOpNotifier{})
	defer tracker.Stop()

	assert.EqualValues(t, 1, tracker.Record("alice"))
	assert.EqualValues(t, 2, tracker.Record("alice"))
	assert.EqualValues(t, 1, tracker.Record("bob"), "counters are per principal")
	assert.EqualValues(t, 2, tracker.Count("alice"))
}

func TestTrackerAlertsOnceAtThreshold(t *testing.T) {
	notifier := &recordingNotifier{}
	tracker := NewTracker(time.Minute, 3, notifier)
	defer tracker.Stop()

	for i := 0; i < 5; i++ {
		tracker.Record("alice")
	}

	got := notifier.all()
	assert.Len(t, got, 1, "exactly one alert per window")
	assert.Equal(t, events.TypeAttemptThreshold, got[0].Type)
	assert.Equal(t, "alice", got[0].Principal)
	assert.EqualValues(t, 3, got[0].Count)
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker(time.Minute, 10, events.NoOpNotifier{})
	defer tracker.Stop()

	tracker.Record("alice")
	tracker.Record("alice")
	tracker.Reset("alice")

	assert.EqualValues(t, 0, tracker.Count("alice"))
	assert.EqualValues(t, 1, tracker.Record("alice"), "window restarts after reset")
}

func TestTrackerWindowExpiry(t *testing.T) {
	tracker := NewTracker(50*time.Millisecond, 10, events.NoOpNotifier{})
	defer tracker.Stop()

	tracker.Record("alice")
	time.Sleep(150 * time.Millisecond)

	assert.EqualValues(t, 0, tracker.Count("alice"), "counter evicted after the rolling window")
}
