// Package attempts tracks failed verification attempts per principal over a
// rolling window, for alerting only. The counters are process-local and are
// not synchronized across instances, so they must never be used for
// authoritative enforcement.
package attempts

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/quorumid/stepauth/events"
)

// Tracker counts failures per principal. When a principal crosses the
// threshold within the window, a single attempt-threshold event is published
// for that window.
type Tracker struct {
	mu        sync.Mutex
	cache     *ttlcache.Cache[string, int64]
	threshold int64
	notifier  events.Notifier
}

// NewTracker creates a Tracker with the given rolling window and alert
// threshold. The caller owns the tracker lifecycle and must call Stop.
func NewTracker(window time.Duration, threshold int64, notifier events.Notifier) *Tracker {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if threshold <= 0 {
		threshold = 5
	}
	if notifier == nil {
		notifier = events.NoOpNotifier{}
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, int64](window),
		ttlcache.WithDisableTouchOnHit[string, int64](),
	)
	go cache.Start()
	return &Tracker{cache: cache, threshold: threshold, notifier: notifier}
}

// Record registers one failure for the principal and returns the count inside
// the current window. Crossing the threshold publishes exactly one alert
// event per window.
func (t *Tracker) Record(principal string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var count int64 = 1
	if item := t.cache.Get(principal); item != nil {
		count = item.Value() + 1
	}
	t.cache.Set(principal, count, ttlcache.PreviousOrDefaultTTL)

	if count == t.threshold {
		t.notifier.Publish(events.Event{
			Type:      events.TypeAttemptThreshold,
			Principal: principal,
			Count:     count,
		})
	}
	return count
}

// Reset clears the principal's counter, typically after a successful
// verification.
func (t *Tracker) Reset(principal string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Delete(principal)
}

// Count returns the current window count without recording a failure.
func (t *Tracker) Count(principal string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if item := t.cache.Get(principal); item != nil {
		return item.Value()
	}
	return 0
}

// Stop halts the cache's expiry loop.
func (t *Tracker) Stop() {
	t.cache.Stop()
}
