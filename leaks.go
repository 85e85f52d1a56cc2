package trackz

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LeakInfo describes one instance that stayed active past the threshold.
// Stack is empty unless the registry was created WithStackCapture.
type LeakInfo struct {
	ID        uuid.UUID
	Class     string
	CreatedAt time.Time
	Age       time.Duration
	Stack     string
}

// LeakReport is the result of CheckForLeaks. ActiveByClass counts every
// reachable active instance per class, leaked or not.
type LeakReport struct {
	Timestamp     time.Time
	Threshold     time.Duration
	Leaks         []LeakInfo
	TotalLeaks    int
	ActiveByClass map[string]int
}

// leakMonitor holds the state of the background leak checker.
type leakMonitor struct {
	mu  sync.Mutex
	run *monitorRun // nil when no checker is running
	wg  sync.WaitGroup
}

// monitorRun identifies one StartMonitoring call, so an exiting goroutine
// only clears its own state.
type monitorRun struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// CheckForLeaks lists reachable instances that are still active more than
// threshold after their creation, oldest first. Instances the collector
// already reclaimed are never reported: they were released by the cleanup.
func (r *Registry) CheckForLeaks(threshold time.Duration) LeakReport {
	now := r.cfg.clock.Now()
	report := LeakReport{
		Timestamp:     now,
		Threshold:     threshold,
		Leaks:         make([]LeakInfo, 0),
		ActiveByClass: make(map[string]int),
	}

	for _, m := range r.live() {
		if !m.rec.isActive() {
			continue
		}
		report.ActiveByClass[m.rec.ledger.name]++

		age := now.Sub(m.rec.createdAt)
		if age <= threshold {
			continue
		}
		report.Leaks = append(report.Leaks, LeakInfo{
			ID:        m.rec.id,
			Class:     m.rec.ledger.name,
			CreatedAt: m.rec.createdAt,
			Age:       age,
			Stack:     m.rec.stack,
		})
	}

	slices.SortFunc(report.Leaks, func(a, b LeakInfo) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	report.TotalLeaks = len(report.Leaks)
	return report
}

// StartMonitoring runs CheckForLeaks every interval until ctx is done,
// StopMonitoring is called or the registry is closed. Every leak found is
// logged at warn level and emitted as EventLeaked. Starting an already
// running monitor is a no-op.
func (r *Registry) StartMonitoring(ctx context.Context, interval, threshold time.Duration) error {
	r.monitor.mu.Lock()
	defer r.monitor.mu.Unlock()

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRegistryClosed
	}

	// A run whose context is done is exiting and does not count as running
	if run := r.monitor.run; run != nil && run.ctx.Err() == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	run := &monitorRun{ctx: ctx, cancel: cancel}
	// Created before the goroutine starts so a fake clock advanced right
	// after StartMonitoring returns already has the ticker registered
	ticker := r.cfg.clock.NewTicker(interval)
	r.monitor.run = run

	r.monitor.wg.Add(1)
	go func() {
		defer r.monitor.wg.Done()
		defer r.monitor.clear(run)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				r.reportLeaks(threshold)
			}
		}
	}()
	return nil
}

// StopMonitoring stops the background leak checker and waits for it to
// exit. It is safe to call when no monitor is running.
func (r *Registry) StopMonitoring() {
	r.monitor.mu.Lock()
	run := r.monitor.run
	r.monitor.run = nil
	r.monitor.mu.Unlock()

	if run != nil {
		run.cancel()
	}
	r.monitor.wg.Wait()
}

// clear forgets run if it is still the current one.
func (m *leakMonitor) clear(run *monitorRun) {
	m.mu.Lock()
	if m.run == run {
		m.run = nil
	}
	m.mu.Unlock()
	run.cancel()
}

func (r *Registry) reportLeaks(threshold time.Duration) {
	report := r.CheckForLeaks(threshold)
	for _, leak := range report.Leaks {
		r.cfg.logger.Warn("instance leaked", "class", leak.Class, "id", leak.ID, "age", leak.Age)
		r.emit(Event{Kind: EventLeaked, Class: leak.Class, ID: leak.ID, At: report.Timestamp, Age: leak.Age})
	}
}
