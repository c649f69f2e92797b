package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives events from the dispatcher, off the caller's critical path.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Dispatcher fans events out to its sinks from a single background
// goroutine. Publish is non-blocking: when the buffer is full the event is
// dropped and counted rather than stalling the triggering operation.
type Dispatcher struct {
	sinks     []Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher with the given buffer size and sinks.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		sinks: sinks,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.ch:
			d.emit(ev)
		case <-d.done:
			// Drain whatever is already buffered, then exit.
			for {
				select {
				case ev := <-d.ch:
					d.emit(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) emit(ev Event) {
	ctx := context.Background()
	for _, s := range d.sinks {
		s.Emit(ctx, ev)
	}
}

// Publish enqueues an event. It never blocks and never fails: with a full
// buffer the event is dropped and Dropped is incremented.
func (d *Dispatcher) Publish(event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops the dispatcher after draining buffered events.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

var _ Notifier = (*Dispatcher)(nil)
