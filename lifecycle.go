package trackz

import (
	"fmt"

	"github.com/google/uuid"
)

// Instance is implemented by every pointer to a type that embeds Lifecycle.
// It is the constraint Class uses to reach the embedded lifecycle of the
// values it builds.
type Instance interface {
	lifecycle() *Lifecycle
}

// Lifecycle is the mixin that makes a type trackable. Embed it by value and
// build instances through Class.New:
//
//	type CacheManager struct {
//		trackz.Lifecycle
//		size int
//	}
//
// The embedded value gains Close, Enter, Exit, Metadata, Process, ID and
// Active. A Lifecycle that was never attached by Class.New behaves as an
// inactive instance. Values must not be copied after construction; a copy
// shares the original's record. Embedding *Lifecycle is not supported and
// Define panics on it.
type Lifecycle struct {
	rec *record
}

func (lc *Lifecycle) lifecycle() *Lifecycle { return lc }

// ID returns the instance identity, or the zero UUID for untracked values.
func (lc *Lifecycle) ID() uuid.UUID {
	if lc.rec == nil {
		return uuid.Nil
	}
	return lc.rec.id
}

// Active reports whether the instance has not yet been released.
func (lc *Lifecycle) Active() bool {
	return lc.rec != nil && lc.rec.isActive()
}

// Close releases the instance. It is idempotent: only the first call (or
// the garbage collector cleanup, whichever comes first) stamps the release
// time and increments the class's released count. Close always returns nil;
// the error result lets tracked types satisfy io.Closer.
func (lc *Lifecycle) Close() error {
	if lc.rec == nil {
		return nil
	}
	lc.rec.ledger.release(lc.rec, reasonClose)
	return nil
}

// Enter starts a scoped use of the instance. It fails with a *StateError
// wrapping ErrAlreadyClosed when the instance is inactive. Pair it with a
// deferred Exit, or use With.
func (lc *Lifecycle) Enter() error {
	return lc.stateErr("enter", ErrAlreadyClosed)
}

// Exit ends a scoped use by releasing the instance. It runs regardless of
// how the scope ended.
func (lc *Lifecycle) Exit() {
	_ = lc.Close()
}

// Metadata returns a snapshot of the instance record.
func (lc *Lifecycle) Metadata() Metadata {
	if lc.rec == nil {
		return Metadata{}
	}
	return lc.rec.snapshot()
}

// Process is the guarded-use operation: it refuses to run on an inactive
// instance and otherwise reports which instance did the work.
func (lc *Lifecycle) Process() (string, error) {
	if err := lc.stateErr("process", ErrClosed); err != nil {
		return "", err
	}
	return fmt.Sprintf("processed by %s#%s", lc.rec.ledger.name, lc.rec.id), nil
}

// stateErr returns a *StateError when the instance cannot be used.
// inactive is the cause reported for a released instance.
func (lc *Lifecycle) stateErr(op string, inactive error) error {
	if lc.rec == nil {
		return &StateError{Op: op, Err: ErrNotTracked}
	}
	if !lc.rec.isActive() {
		return &StateError{Class: lc.rec.ledger.name, ID: lc.rec.id, Op: op, Err: inactive}
	}
	return nil
}

// With runs fn inside a scoped use of v. Enter failures are returned
// without calling fn. Otherwise v is released when fn returns or panics,
// and fn's error (or panic) reaches the caller unchanged.
//
//	err := trackz.With(conn, func(c *DatabaseConnection) error {
//		return c.Execute("SELECT 1")
//	})
func With[P Instance](v P, fn func(P) error) error {
	lc := v.lifecycle()
	if err := lc.Enter(); err != nil {
		return err
	}
	defer lc.Exit()
	return fn(v)
}
