package trackz

import (
	"fmt"
	"runtime"
	"weak"
)

// ClassOption configures a Class during Define.
type ClassOption[T any] func(*classConfig[T])

type classConfig[T any] struct {
	init func(*T) error
	base func() func(*T) error
}

// WithInit sets the class's own construction routine. It runs for every
// New call that does not pass an initializer of its own.
func WithInit[T any](fn func(*T) error) ClassOption[T] {
	return func(c *classConfig[T]) {
		c.init = fn
	}
}

// WithBase declares parent as the class's ancestor. When the class has no
// construction routine of its own, the nearest ancestor's runs instead.
// Instances are still counted only in the derived class's ledger.
func WithBase[T any, P interface {
	*T
	Instance
}](parent *Class[T, P]) ClassOption[T] {
	return func(c *classConfig[T]) {
		c.base = parent.construction
	}
}

// Class is a tracked type: it builds instances of T, attaches a record to
// each one and keeps the class ledger. Its ledger methods (Name, Stats) are
// promoted from the embedded *Ledger.
//
// A class stays listed in its registry while the Class value or any of its
// instances is reachable.
type Class[T any, P interface {
	*T
	Instance
}] struct {
	*Ledger
	cfg classConfig[T]
}

// Define registers a new tracked class named name in reg and returns it.
// A nil reg uses Default(). P is inferred from T:
//
//	type DatabaseConnection struct {
//		trackz.Lifecycle
//		URL string
//	}
//
//	var connections = trackz.Define[DatabaseConnection](nil, "DatabaseConnection")
//
// Defining a second class with the same name replaces the first in the
// registry; both keep their own ledgers. Define panics when T embeds
// *Lifecycle instead of Lifecycle.
func Define[T any, P interface {
	*T
	Instance
}](reg *Registry, name string, opts ...ClassOption[T]) *Class[T, P] {
	var zero T
	if P(&zero).lifecycle() == nil {
		panic(fmt.Sprintf("trackz: %T must embed trackz.Lifecycle by value", zero))
	}

	if reg == nil {
		reg = Default()
	}

	c := &Class[T, P]{Ledger: newLedger(name, reg)}
	for _, opt := range opts {
		if opt != nil {
			opt(&c.cfg)
		}
	}

	reg.register(c.Ledger)
	return c
}

// construction resolves the routine New falls back to: the class's own,
// else the nearest ancestor's, else nil.
func (c *Class[T, P]) construction() func(*T) error {
	if c.cfg.init != nil {
		return c.cfg.init
	}
	if c.cfg.base != nil {
		return c.cfg.base()
	}
	return nil
}

// New builds and tracks an instance. init is the construction routine for
// this call; when it is nil the class's own routine (or its nearest
// ancestor's) runs. A construction error is returned as is and nothing is
// counted.
//
//	conn, err := connections.New(func(c *DatabaseConnection) error {
//		c.URL = url
//		return nil
//	})
func (c *Class[T, P]) New(init func(*T) error) (P, error) {
	v := new(T)
	lc := P(v).lifecycle()

	reg := c.reg
	rec := newRecord(reg.newIdentity(), c.Ledger, reg.cfg.clock.Now(), reg.captureStack())
	lc.rec = rec

	if init == nil {
		init = c.construction()
	}
	if init != nil {
		if err := init(v); err != nil {
			lc.rec = nil
			return nil, err
		}
	}

	wp := weak.Make(v)
	c.admit(&member{
		rec:   rec,
		value: wp,
		alive: func() bool { return wp.Value() != nil },
	})
	runtime.AddCleanup(v, c.finalize, rec)

	return P(v), nil
}

// ActiveInstances returns the reachable instances that are still active,
// in unspecified order. The returned slice holds strong references.
func (c *Class[T, P]) ActiveInstances() []P {
	members := c.live()
	out := make([]P, 0, len(members))
	for _, m := range members {
		wp, ok := m.value.(weak.Pointer[T])
		if !ok {
			continue
		}
		v := wp.Value()
		if v == nil || !m.rec.isActive() {
			continue
		}
		out = append(out, P(v))
	}
	return out
}
