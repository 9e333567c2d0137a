// Package store defines the job store contract shared by the memory and SQL
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
)

var (
	ErrObjectAlreadyExists = errors.New("object already exists")
	ErrJobNotFound         = errors.New("job not found")
	ErrTriggerNotFound     = errors.New("trigger not found")
)

// JobStore is the full persistence surface used by the engine. Components
// depend on narrower interfaces declared in their own packages.
type JobStore interface {
	StoreJobAndTrigger(ctx context.Context, job domain.JobDetail, trig domain.Trigger, replace bool) error
	StoreTrigger(ctx context.Context, trig domain.Trigger, replace bool) error
	ClearAllSchedulingData(ctx context.Context) error

	AcquireNextTriggers(ctx context.Context, instanceID string, noLaterThan time.Time, maxCount int) ([]domain.Trigger, error)
	ReleaseAcquiredTrigger(ctx context.Context, instanceID string, trig domain.Trigger) error
	RemoveTrigger(ctx context.Context, key domain.TriggerKey) error
	TriggerFired(ctx context.Context, instanceID string, trig domain.Trigger, scheduledAt, firedAt time.Time) (domain.FiredTrigger, domain.JobDetail, error)
	TriggeredJobComplete(ctx context.Context, rec domain.FiredTrigger) error

	FiredTriggers(ctx context.Context, instanceID string) ([]domain.FiredTrigger, error)
	ReleaseFiredTrigger(ctx context.Context, rec domain.FiredTrigger) error

	ListTriggers(ctx context.Context) ([]domain.Trigger, error)
	GetJob(ctx context.Context, key domain.JobKey) (domain.JobDetail, error)

	Checkin(ctx context.Context, inst domain.SchedulerInstance) error
	Instances(ctx context.Context) ([]domain.SchedulerInstance, error)
	RemoveInstance(ctx context.Context, instanceID string) error

	Close() error
}

// Less orders triggers by next fire time, then by descending priority.
func Less(a, b domain.Trigger) bool {
	if a.NextFireTime == nil || b.NextFireTime == nil {
		return b.NextFireTime == nil && a.NextFireTime != nil
	}
	if !a.NextFireTime.Equal(*b.NextFireTime) {
		return a.NextFireTime.Before(*b.NextFireTime)
	}
	return a.Priority > b.Priority
}
