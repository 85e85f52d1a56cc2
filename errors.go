package trackz

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Instance State Errors
//
// These errors describe why an operation that needs an active instance
// was refused. They are always delivered wrapped in a *StateError.

// ErrAlreadyClosed is returned by Enter when the instance was already
// released, either explicitly or by the garbage collector cleanup.
var ErrAlreadyClosed = errors.New("already closed")

// ErrClosed is returned by Process when the instance is no longer active.
var ErrClosed = errors.New("closed")

// ErrNotTracked is returned when a Lifecycle was never attached to a
// record, which happens for values that were not built by Class.New.
var ErrNotTracked = errors.New("not tracked")

// Registry Lifecycle Errors
//
// These errors are returned by the event subscription surface of a Registry.
// Tracking itself never fails because of them.

// ErrRegistryClosed is returned when subscribing to events on a registry
// whose event delivery was stopped with Close, and by a second Close.
var ErrRegistryClosed = errors.New("registry is closed")

// ErrAlreadyUnhooked is returned when unhooking a subscription that has
// already been removed.
var ErrAlreadyUnhooked = errors.New("hook already unhooked")

// ErrHookNotFound is returned when the subscription was removed behind the
// handle's back, for example by Clear.
var ErrHookNotFound = errors.New("hook not found")

// ErrTooManyHooks is returned when a subscription would exceed either
// maxHooksPerEvent for one event kind or maxTotalHooks overall.
var ErrTooManyHooks = errors.New("hook limit exceeded")

// ErrQueueFull is used internally when the event queue cannot take another
// delivery. The event is dropped and counted in Metrics.EventsDropped.
var ErrQueueFull = errors.New("event queue is full")

// ErrHookPanicked is used internally to count subscribers that panicked.
var ErrHookPanicked = errors.New("hook panicked during execution")

// StateError reports an operation that requires an active instance being
// invoked on an inactive one. It is the only error tracked instances
// return, and it is a programming-contract violation rather than a
// transient failure.
//
//	if _, err := conn.Process(); err != nil {
//	    var se *trackz.StateError
//	    if errors.As(err, &se) && errors.Is(err, trackz.ErrClosed) {
//	        // conn was closed before use
//	    }
//	}
type StateError struct {
	Class string
	ID    uuid.UUID
	Op    string
	Err   error
}

func (e *StateError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("trackz: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("trackz: %s: %s#%s %v", e.Op, e.Class, e.ID, e.Err)
}

// Unwrap exposes the sentinel cause for errors.Is.
func (e *StateError) Unwrap() error { return e.Err }
