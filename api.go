// Package trackz tracks the lifecycle of every instance of opted-in types
// without ever keeping those instances alive.
//
// A type opts in by embedding Lifecycle and being defined as a Class. Each
// instance built by the class gets a record (identity, creation time,
// release time, active flag), is counted in the class ledger and is
// registered, through weak pointers only, in the class and in the registry.
// Instances leave the books when Close is called or when the garbage
// collector reclaims them; either way the release is counted exactly once.
//
// Basic Usage:
//
//	type DatabaseConnection struct {
//		trackz.Lifecycle
//		URL string
//	}
//
//	reg := trackz.New()
//	connections := trackz.Define[DatabaseConnection](reg, "DatabaseConnection")
//
//	conn, err := connections.New(func(c *DatabaseConnection) error {
//		c.URL = "postgres://localhost/app"
//		return nil
//	})
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	stats := connections.Stats() // CreatedCount=1 ActiveInstances=1
//
// Scoped Use:
//
//	err := trackz.With(conn, func(c *DatabaseConnection) error {
//		_, err := c.Process()
//		return err
//	})
//	// conn is released here; a second With fails with a *StateError
//
// Process-wide Reporting:
//
//	global := reg.GlobalStats()
//	for _, cs := range global.Classes {
//		log.Printf("%s created=%d released=%d active=%d",
//			cs.ClassName, cs.CreatedCount, cs.ReleasedCount, cs.ActiveInstances)
//	}
//
// Leak Detection:
//
//	report := reg.CheckForLeaks(5 * time.Minute)
//	for _, leak := range report.Leaks {
//		log.Printf("%s#%s open for %v", leak.Class, leak.ID, leak.Age)
//	}
//
// Lifecycle Events:
//
//	hook, err := reg.Hook(trackz.EventFinalized, func(ctx context.Context, e trackz.Event) error {
//		return alert(ctx, e.Class, e.ID)
//	})
//
// Reclamation Timing:
//
// Release by the garbage collector happens at a time chosen by the runtime,
// possibly never before the process exits. Close is the reliable path; the
// collector cleanup is a best-effort safety net that keeps the counters
// honest for instances nobody closed.
package trackz

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a lifecycle event. Package constants cover every
// event the registry emits.
type EventKind = string

const (
	EventCreated   EventKind = "instance.created"
	EventReleased  EventKind = "instance.released"
	EventFinalized EventKind = "instance.finalized"
	EventLeaked    EventKind = "instance.leaked"
)

// Event describes one lifecycle transition. Age is set for EventLeaked.
type Event struct {
	Kind  EventKind
	Class string
	ID    uuid.UUID
	At    time.Time
	Age   time.Duration
}
