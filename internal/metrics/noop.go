package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                       {}
func (n *NoopSink) TickCompleted(duration time.Duration, triggersFired int, err error) {}
func (n *NoopSink) TriggersAcquired(count int)                                         {}
func (n *NoopSink) TriggerFired(lateness time.Duration)                                {}
func (n *NoopSink) MisfireHandled()                                                    {}
func (n *NoopSink) JobExecuted(duration time.Duration, outcome string)                 {}
func (n *NoopSink) JobRefired()                                                        {}
func (n *NoopSink) JobsInFlightIncr()                                                  {}
func (n *NoopSink) JobsInFlightDecr()                                                  {}
func (n *NoopSink) BufferSizeUpdate(size int)                                          {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                     {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                          {}
func (n *NoopSink) EmitError()                                                         {}
func (n *NoopSink) JobsRecovered(count int)                                            {}
func (n *NoopSink) TriggersReleased(count int)                                         {}
func (n *NoopSink) ClusterCheckin(err error)                                           {}
func (n *NoopSink) FailedInstancesRecovered(count int)                                 {}
