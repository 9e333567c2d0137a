package domain

import "time"

// SchedulerInstance is a cluster member's check-in record.
type SchedulerInstance struct {
	InstanceID      string
	LastCheckin     time.Time
	CheckinInterval time.Duration
}

// Failed reports whether the instance missed its check-in window at now.
// The grace period absorbs clock skew and slow check-ins.
func (i SchedulerInstance) Failed(now time.Time, grace time.Duration) bool {
	return i.LastCheckin.Add(i.CheckinInterval + grace).Before(now)
}
