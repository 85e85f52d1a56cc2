package trackz

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// record is the per-instance bookkeeping. The instance owns it through its
// embedded Lifecycle; the ledger and the GC cleanup share the pointer.
// It must never point back at the instance, otherwise the cleanup argument
// would keep the instance reachable forever.
type record struct {
	id        uuid.UUID
	ledger    *Ledger
	createdAt time.Time
	stack     string

	mu         sync.Mutex
	active     bool
	releasedAt time.Time
}

func newRecord(id uuid.UUID, l *Ledger, now time.Time, stack string) *record {
	return &record{
		id:        id,
		ledger:    l,
		createdAt: now,
		stack:     stack,
		active:    true,
	}
}

// release performs the single active-to-inactive transition. It reports
// whether this call won; every later call, from any goroutine, is a no-op.
func (r *record) release(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return false
	}
	r.active = false
	r.releasedAt = now
	return true
}

func (r *record) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *record) snapshot() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Metadata{
		ID:         r.id,
		Class:      r.ledger.name,
		CreatedAt:  r.createdAt,
		ReleasedAt: r.releasedAt,
		Active:     r.active,
	}
}

// Metadata is a point-in-time copy of an instance record.
// ReleasedAt is the zero time while the instance is active.
type Metadata struct {
	ID         uuid.UUID
	Class      string
	CreatedAt  time.Time
	ReleasedAt time.Time
	Active     bool
}
