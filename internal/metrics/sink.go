package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, triggersFired int, err error)
	TriggersAcquired(count int)
	TriggerFired(lateness time.Duration)
	MisfireHandled()

	// Thread pool metrics
	JobExecuted(duration time.Duration, outcome string)
	JobRefired()
	JobsInFlightIncr()
	JobsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Recovery and cluster metrics
	JobsRecovered(count int)
	TriggersReleased(count int)
	ClusterCheckin(err error)
	FailedInstancesRecovered(count int)
}
