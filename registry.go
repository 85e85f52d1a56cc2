package trackz

import (
	"cmp"
	"context"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Option configures a Registry during creation.
type Option func(*config)

// config holds internal configuration for registry creation.
type config struct {
	clock        clockz.Clock // Time abstraction for deterministic testing
	logger       *slog.Logger
	workers      int
	timeout      time.Duration
	queueSize    int
	captureStack bool
}

// WithClock sets the clock used for creation and release timestamps, leak
// ages and event delivery timeouts.
// Default is clockz.RealClock for production use.
// Use clockz.FakeClock for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithLogger sets the structured logger for lifecycle notifications.
// Default is slog.Default() at the time New is called.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithWorkers sets the number of goroutines delivering lifecycle events.
// Default is 4 workers. Workers start with the first Hook.
func WithWorkers(count int) Option {
	return func(c *config) {
		c.workers = count
	}
}

// WithTimeout sets the timeout applied to every hook invocation.
// Default is no timeout (0).
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

// WithQueueSize sets the event queue size.
// Default is 0, which auto-calculates as workers * 64.
func WithQueueSize(size int) Option {
	return func(c *config) {
		c.queueSize = size
	}
}

// WithStackCapture records the constructing goroutine's stack for every
// instance so leak reports can point at the allocation site. It costs a
// runtime.Stack call per construction.
func WithStackCapture() Option {
	return func(c *config) {
		c.captureStack = true
	}
}

// Resource limits for event subscriptions.
const (
	maxHooksPerEvent = 100
	maxTotalHooks    = 10000
	maxStackSize     = 4096
)

// Registry is the process-wide bookkeeping shared by every class defined
// against it: a weak name → class index, a weak set of all instances, the
// lifecycle event subscriptions and the leak monitor.
//
// A Registry is created once (New, or Default for the process-wide one),
// used for the lifetime of the process and never torn down; Close only
// stops event delivery and monitoring.
//
// Thread Safety:
// All methods are safe for concurrent use. The garbage collector releases
// unreachable instances from its own goroutine.
type Registry struct {
	cfg config
	seq atomic.Uint64

	classes *WeakMap[string, Ledger]

	instMu    sync.RWMutex
	instances map[uuid.UUID]*member

	mu         sync.RWMutex
	hooks      map[EventKind][]hookEntry
	dispatcher *dispatcher // nil until the first Hook
	totalHooks int
	closed     bool

	monitor leakMonitor

	// Metrics field - zero initialization provides safe defaults
	metrics Metrics
}

// GlobalStats aggregates every live class of a registry.
// ActiveInstances equals the sum of Classes[i].ActiveInstances.
type GlobalStats struct {
	TotalClasses    int
	TotalInstances  int
	ActiveInstances int
	Classes         []ClassStats
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry, creating it with default
// options on first use. Define uses it when passed a nil registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// New creates a registry with the specified options.
//
// Default configuration:
//   - clockz.RealClock timestamps
//   - slog.Default() notifications
//   - 4 event workers, started lazily
//   - No hook timeout
//   - No stack capture
//
// Example:
//
//	reg := trackz.New(
//	    trackz.WithLogger(logger),
//	    trackz.WithStackCapture(),
//	)
//	defer reg.Close()
func New(opts ...Option) *Registry {
	cfg := config{
		clock:   clockz.RealClock,
		workers: 4,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	if cfg.queueSize == 0 {
		cfg.queueSize = cfg.workers * 64
	}

	return &Registry{
		cfg:       cfg,
		classes:   NewWeakMap[string, Ledger](),
		instances: make(map[uuid.UUID]*member),
		hooks:     make(map[EventKind][]hookEntry),
	}
}

// register indexes a freshly defined class. A previous class with the same
// name is replaced.
func (r *Registry) register(l *Ledger) {
	r.classes.Store(l.name, l)
	atomic.AddInt64(&r.metrics.ClassesDefined, 1)
	r.cfg.logger.Debug("class defined", "class", l.name)
}

func (r *Registry) admit(m *member) {
	r.instMu.Lock()
	r.instances[m.rec.id] = m
	r.instMu.Unlock()
}

func (r *Registry) forget(id uuid.UUID) {
	r.instMu.Lock()
	delete(r.instances, id)
	r.instMu.Unlock()
}

// live returns every reachable instance across all classes and prunes the
// entries the collector has cleared.
func (r *Registry) live() []*member {
	r.instMu.RLock()
	members := make([]*member, 0, len(r.instances))
	var dead []uuid.UUID
	for id, m := range r.instances {
		if m.alive() {
			members = append(members, m)
		} else {
			dead = append(dead, id)
		}
	}
	r.instMu.RUnlock()

	if len(dead) > 0 {
		r.instMu.Lock()
		for _, id := range dead {
			delete(r.instances, id)
		}
		r.instMu.Unlock()
	}
	return members
}

// Classes returns the ledgers of every class still registered, sorted by
// name.
func (r *Registry) Classes() []*Ledger {
	var ledgers []*Ledger
	r.classes.Range(func(_ string, l *Ledger) bool {
		ledgers = append(ledgers, l)
		return true
	})
	slices.SortFunc(ledgers, func(a, b *Ledger) int { return cmp.Compare(a.name, b.name) })
	return ledgers
}

// Lookup returns the ledger registered under name.
func (r *Registry) Lookup(name string) (*Ledger, bool) {
	return r.classes.Load(name)
}

// GlobalStats walks every registered class. It is a best-effort snapshot:
// classes and instances may disappear while it runs, which never causes an
// error.
func (r *Registry) GlobalStats() GlobalStats {
	var stats GlobalStats
	for _, l := range r.Classes() {
		cs := l.Stats()
		stats.ActiveInstances += cs.ActiveInstances
		stats.Classes = append(stats.Classes, cs)
	}
	stats.TotalClasses = len(stats.Classes)
	stats.TotalInstances = len(r.live())
	return stats
}

// Hook registers a callback for the specified lifecycle event kind.
// Callbacks run asynchronously on the registry's event workers; the
// tracked operation that produced the event never waits for them.
func (r *Registry) Hook(kind EventKind, callback func(context.Context, Event) error) (Hook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Hook{}, ErrRegistryClosed
	}

	if len(r.hooks[kind]) >= maxHooksPerEvent {
		return Hook{}, ErrTooManyHooks
	}
	if r.totalHooks >= maxTotalHooks {
		return Hook{}, ErrTooManyHooks
	}

	if r.dispatcher == nil {
		r.dispatcher = newDispatcher(r.cfg, &r.metrics)
	}

	id := r.newIdentity().String()
	r.hooks[kind] = append(r.hooks[kind], hookEntry{id: id, callback: callback})
	r.totalHooks++

	return Hook{
		unhook: func() error {
			return r.removeHook(kind, id)
		},
	}, nil
}

// removeHook safely removes a hook by ID.
func (r *Registry) removeHook(kind EventKind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hooks := r.hooks[kind]
	for i, hook := range hooks {
		if hook.id == id {
			r.hooks[kind] = append(hooks[:i:i], hooks[i+1:]...)
			if len(r.hooks[kind]) == 0 {
				delete(r.hooks, kind)
			}
			r.totalHooks--
			return nil
		}
	}
	return ErrHookNotFound
}

// Unhook removes a specific hook using its handle.
func (r *Registry) Unhook(hook Hook) error {
	return hook.Unhook()
}

// Clear removes all hooks for the specified event kind.
func (r *Registry) Clear(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.hooks[kind])
	r.totalHooks -= count
	delete(r.hooks, kind)
	return count
}

// ClearAll removes all hooks for all event kinds.
func (r *Registry) ClearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.totalHooks
	r.hooks = make(map[EventKind][]hookEntry)
	r.totalHooks = 0
	return count
}

// emit queues ev for every hook of its kind. It never blocks; events that
// do not fit in the queue are dropped and counted.
func (r *Registry) emit(ev Event) {
	r.mu.RLock()
	if r.closed || len(r.hooks[ev.Kind]) == 0 {
		r.mu.RUnlock()
		return
	}
	hooks := slices.Clone(r.hooks[ev.Kind])
	d := r.dispatcher
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := d.submit(eventTask{ctx: context.Background(), event: ev, hook: hook}); err != nil {
			r.cfg.logger.Debug("lifecycle event dropped", "event", ev.Kind, "class", ev.Class, "id", ev.ID, "error", err)
		}
	}
}

// Metrics returns current registry metrics with thread-safe access.
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	registeredHooks := int64(r.totalHooks)
	var capacity int64
	if r.dispatcher != nil {
		capacity = int64(cap(r.dispatcher.tasks))
	}
	r.mu.RUnlock()

	return Metrics{
		ClassesDefined:   atomic.LoadInt64(&r.metrics.ClassesDefined),
		InstancesCreated: atomic.LoadInt64(&r.metrics.InstancesCreated),
		Released:         atomic.LoadInt64(&r.metrics.Released),
		Finalized:        atomic.LoadInt64(&r.metrics.Finalized),
		QueueDepth:       atomic.LoadInt64(&r.metrics.QueueDepth),
		QueueCapacity:    capacity,
		EventsDelivered:  atomic.LoadInt64(&r.metrics.EventsDelivered),
		EventsDropped:    atomic.LoadInt64(&r.metrics.EventsDropped),
		EventsFailed:     atomic.LoadInt64(&r.metrics.EventsFailed),
		EventsExpired:    atomic.LoadInt64(&r.metrics.EventsExpired),
		RegisteredHooks:  registeredHooks,
	}
}

// Close stops the leak monitor and event delivery, waiting for queued
// events to be delivered. Tracking, statistics and leak checks keep
// working. A second Close returns ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	r.closed = true
	d := r.dispatcher
	r.mu.Unlock()

	r.StopMonitoring()

	if d != nil {
		d.close()
	}
	return nil
}

// newIdentity returns a random UUID for an instance or a hook.
func (r *Registry) newIdentity() uuid.UUID {
	id, err := uuid.NewRandom()
	if err != nil {
		// Fall back to a name-based UUID derived from the clock and a
		// per-registry sequence; uniqueness among live instances still holds
		seed := strconv.FormatInt(r.cfg.clock.Now().UnixNano(), 10) + "/" + strconv.FormatUint(r.seq.Add(1), 10)
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
	}
	return id
}

// captureStack returns the caller's stack without trackz's own frames, or
// "" when stack capture is disabled.
func (r *Registry) captureStack() string {
	if !r.cfg.captureStack {
		return ""
	}
	buf := make([]byte, maxStackSize)
	n := runtime.Stack(buf, false)

	lines := strings.Split(string(buf[:n]), "\n")
	filtered := make([]string, 0, len(lines))
	skipNext := false
	for _, line := range lines {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.Contains(line, "trackz.(*Registry).captureStack") || strings.Contains(line, "trackz.(*Class[") {
			skipNext = true // the file:line entry of the skipped frame
			continue
		}
		filtered = append(filtered, line)
	}
	return strings.Join(filtered, "\n")
}
