package trackz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// dispatcher delivers lifecycle events to hooks on a fixed set of worker
// goroutines.
//
// The dispatcher:
//   - Never blocks the tracked operation: a full queue drops the event
//   - Recovers panicking hooks so one subscriber cannot take down the workers
//   - Applies the registry-wide hook timeout
//   - Drains queued events on close
type dispatcher struct {
	// Time abstraction for deterministic testing
	clock clockz.Clock

	tasks chan eventTask

	wg sync.WaitGroup
	mu sync.RWMutex

	// Zero value means no timeout
	timeout time.Duration

	closed bool

	// Metrics pointer for atomic updates
	metrics *Metrics
}

// eventTask is one hook invocation waiting in the queue.
type eventTask struct {
	ctx   context.Context
	event Event
	hook  hookEntry
}

// hookEntry contains the callback function and its identifier.
type hookEntry struct {
	id       string
	callback func(context.Context, Event) error
}

// newDispatcher creates the queue and starts cfg.workers goroutines.
func newDispatcher(cfg config, metrics *Metrics) *dispatcher {
	d := &dispatcher{
		clock:   cfg.clock,
		tasks:   make(chan eventTask, cfg.queueSize),
		timeout: cfg.timeout,
		metrics: metrics,
	}

	for i := 0; i < cfg.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// submit queues a hook invocation without waiting.
//
// Returns ErrQueueFull when the queue is at capacity and ErrRegistryClosed
// after close.
func (d *dispatcher) submit(task eventTask) error {
	// The read lock keeps close from closing the channel between the
	// closed check and the send
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrRegistryClosed
	}

	select {
	case d.tasks <- task:
		atomic.AddInt64(&d.metrics.QueueDepth, 1)
		return nil
	default:
		atomic.AddInt64(&d.metrics.EventsDropped, 1)
		return ErrQueueFull
	}
}

// close marks the dispatcher closed, closes the queue and waits for the
// workers to deliver what was already queued.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	d.wg.Wait()
}

// worker is the main loop for worker goroutines.
func (d *dispatcher) worker() {
	defer d.wg.Done()

	for task := range d.tasks {
		atomic.AddInt64(&d.metrics.QueueDepth, -1)

		expired, err := d.deliverSafely(task)
		switch {
		case err == nil:
			atomic.AddInt64(&d.metrics.EventsDelivered, 1)
		case expired:
			atomic.AddInt64(&d.metrics.EventsExpired, 1)
		default:
			atomic.AddInt64(&d.metrics.EventsFailed, 1)
		}
	}
}

// deliverSafely runs the hook with panic recovery and the configured
// timeout. expired reports a failure that happened after the hook's
// context was done.
func (d *dispatcher) deliverSafely(task eventTask) (expired bool, err error) {
	ctx := task.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = d.clock.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	// Registered after cancel so it observes the context before cancel runs
	defer func() {
		if r := recover(); r != nil {
			err = ErrHookPanicked
		}
		expired = err != nil && ctx.Err() != nil
	}()

	return false, task.hook.callback(ctx, task.event)
}
