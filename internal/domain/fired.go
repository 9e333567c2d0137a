package domain

import (
	"time"

	"github.com/google/uuid"
)

type FiredState string

const (
	FiredStateAcquired  FiredState = "acquired"
	FiredStateExecuting FiredState = "executing"
)

// FiredTrigger is the job store's record of a trigger owned by an instance,
// from acquisition until its job completes.
type FiredTrigger struct {
	ID         uuid.UUID
	InstanceID string

	TriggerKey TriggerKey
	JobKey     JobKey

	FiredAt     time.Time
	ScheduledAt time.Time
	Priority    int
	State       FiredState

	RequestsRecovery bool
}

// FiredEvent is emitted by the scheduler when a trigger fires.
type FiredEvent struct {
	Record  FiredTrigger
	Job     JobDetail
	Trigger Trigger

	ScheduledFireTime time.Time
	FireTime          time.Time
	// PreviousFireTime is the trigger's previous fire before this one.
	PreviousFireTime *time.Time
}

// JobExecutionContext is handed to a Job when it executes.
type JobExecutionContext struct {
	JobDetail  JobDetail
	TriggerKey TriggerKey

	FireTime          time.Time
	ScheduledFireTime time.Time
	PreviousFireTime  *time.Time
	NextFireTime      *time.Time

	Recovering     bool
	RefireCount    int
	FireInstanceID string
}

// NewExecutionContext builds the context for the first execution of event.
func NewExecutionContext(event FiredEvent) JobExecutionContext {
	return JobExecutionContext{
		JobDetail:         event.Job,
		TriggerKey:        event.Trigger.Key,
		FireTime:          event.FireTime,
		ScheduledFireTime: event.ScheduledFireTime,
		PreviousFireTime:  event.PreviousFireTime,
		NextFireTime:      event.Trigger.NextFireTime,
		Recovering:        event.Trigger.Recovering,
		FireInstanceID:    event.Record.ID.String(),
	}
}
