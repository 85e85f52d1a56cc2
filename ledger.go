package trackz

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type releaseReason string

const (
	reasonClose     releaseReason = "close"
	reasonFinalizer releaseReason = "finalizer"
)

// member is a ledger entry. value holds a weak.Pointer to the instance and
// alive resolves it; neither keeps the instance reachable.
type member struct {
	rec   *record
	value any
	alive func() bool
}

// Ledger is the per-class bookkeeping: monotonic counters plus a
// non-owning set of the class's instances. A ledger is created once by
// Define and shared by the Class it belongs to and every instance the class
// built.
type Ledger struct {
	name string
	reg  *Registry

	created   atomic.Int64
	released  atomic.Int64
	finalized atomic.Int64

	mu      sync.RWMutex
	members map[uuid.UUID]*member
}

// ClassStats summarizes a ledger at one point in time.
//
// ActiveInstances counts reachable instances that are still active. Pending
// counts reachable instances that were already released; an instance that
// is released and dropped stops being counted once the garbage collector
// reclaims it.
type ClassStats struct {
	ClassName       string
	CreatedCount    int64
	ReleasedCount   int64
	FinalizedCount  int64 // released by the GC cleanup without an explicit Close
	ActiveInstances int
	Pending         int
}

func newLedger(name string, reg *Registry) *Ledger {
	return &Ledger{
		name:    name,
		reg:     reg,
		members: make(map[uuid.UUID]*member),
	}
}

// Name returns the class name the ledger was defined with.
func (l *Ledger) Name() string { return l.name }

// Stats computes the class summary from the current ledger state.
func (l *Ledger) Stats() ClassStats {
	members := l.live()
	active := 0
	for _, m := range members {
		if m.rec.isActive() {
			active++
		}
	}
	return ClassStats{
		ClassName:       l.name,
		CreatedCount:    l.created.Load(),
		ReleasedCount:   l.released.Load(),
		FinalizedCount:  l.finalized.Load(),
		ActiveInstances: active,
		Pending:         len(members) - active,
	}
}

// admit counts a successfully constructed instance and registers it.
func (l *Ledger) admit(m *member) {
	l.created.Add(1)

	l.mu.Lock()
	l.members[m.rec.id] = m
	l.mu.Unlock()

	l.reg.admit(m)
	atomic.AddInt64(&l.reg.metrics.InstancesCreated, 1)

	l.reg.cfg.logger.Info("instance created", "class", l.name, "id", m.rec.id)
	l.reg.emit(Event{Kind: EventCreated, Class: l.name, ID: m.rec.id, At: m.rec.createdAt})
}

// release applies the active-to-inactive transition for rec. It reports
// whether this call performed it.
func (l *Ledger) release(rec *record, reason releaseReason) bool {
	now := l.reg.cfg.clock.Now()
	if !rec.release(now) {
		return false
	}
	l.released.Add(1)

	kind := EventReleased
	if reason == reasonFinalizer {
		l.finalized.Add(1)
		atomic.AddInt64(&l.reg.metrics.Finalized, 1)
		kind = EventFinalized
		l.reg.cfg.logger.Warn("instance reclaimed without close", "class", l.name, "id", rec.id,
			"reason", string(reason), "age", now.Sub(rec.createdAt))
	} else {
		atomic.AddInt64(&l.reg.metrics.Released, 1)
		l.reg.cfg.logger.Info("instance released", "class", l.name, "id", rec.id, "reason", string(reason))
	}
	l.reg.emit(Event{Kind: kind, Class: l.name, ID: rec.id, At: now})
	return true
}

// finalize is the GC cleanup armed by Class.New. The instance is already
// unreachable when it runs, so its entries are dropped as well.
func (l *Ledger) finalize(rec *record) {
	l.release(rec, reasonFinalizer)
	l.forget(rec.id)
	l.reg.forget(rec.id)
}

func (l *Ledger) forget(id uuid.UUID) {
	l.mu.Lock()
	delete(l.members, id)
	l.mu.Unlock()
}

// live returns the members whose instance is still reachable and prunes
// entries the collector has already cleared.
func (l *Ledger) live() []*member {
	l.mu.RLock()
	members := make([]*member, 0, len(l.members))
	var dead []uuid.UUID
	for id, m := range l.members {
		if m.alive() {
			members = append(members, m)
		} else {
			dead = append(dead, id)
		}
	}
	l.mu.RUnlock()

	if len(dead) > 0 {
		l.mu.Lock()
		for _, id := range dead {
			delete(l.members, id)
		}
		l.mu.Unlock()
	}
	return members
}
