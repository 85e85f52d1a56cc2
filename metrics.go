package trackz

// Metrics provides observability data for a Registry.
// All counter fields use atomic operations for thread safety.
// Capacity fields are static and don't require atomics.
type Metrics struct {
	// Tracking Counters (atomic operations required)
	ClassesDefined   int64 // Define calls against this registry
	InstancesCreated int64 // Successful Class.New calls
	Released         int64 // Transitions triggered by Close or Exit
	Finalized        int64 // Transitions triggered by the GC cleanup

	// Event Queue Metrics
	QueueDepth    int64 // Current events waiting for delivery (atomic)
	QueueCapacity int64 // Event queue capacity (static, 0 until first hook)

	// Delivery Counters (atomic operations required)
	EventsDelivered int64 // Hook invocations that returned nil
	EventsDropped   int64 // Events rejected because the queue was full
	EventsFailed    int64 // Hook invocations that failed or panicked
	EventsExpired   int64 // Hook invocations cut short by timeout or shutdown

	// Registration Metrics
	RegisteredHooks int64 // Current registered hooks (requires mutex read)
}
