// Package recovery cleans up fired triggers left behind by a scheduler
// instance that stopped without completing its work.
//
// Triggers the instance had only acquired are handed back to the store so
// any instance can fire them. Jobs it was executing are re-fired through a
// one-shot recovery trigger when the job requests recovery, and otherwise
// dropped.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
)

// RecoveryGroup holds the triggers created to re-fire recovered jobs.
const RecoveryGroup = "RECOVERING_JOBS"

// Store defines the fired-trigger operations recovery needs.
type Store interface {
	FiredTriggers(ctx context.Context, instanceID string) ([]domain.FiredTrigger, error)
	ReleaseFiredTrigger(ctx context.Context, rec domain.FiredTrigger) error
	StoreTrigger(ctx context.Context, trig domain.Trigger, replace bool) error
	TriggeredJobComplete(ctx context.Context, rec domain.FiredTrigger) error
}

// MetricsSink records recovery outcomes. Methods must not block.
type MetricsSink interface {
	JobsRecovered(count int)
	TriggersReleased(count int)
}

// Result counts what one recovery pass did.
type Result struct {
	Released  int
	Recovered int
	Dropped   int
}

type Recoverer struct {
	store   Store
	metrics MetricsSink
}

func New(store Store) *Recoverer {
	return &Recoverer{store: store}
}

// WithMetrics attaches a metrics sink to the recoverer.
func (r *Recoverer) WithMetrics(sink MetricsSink) *Recoverer {
	r.metrics = sink
	return r
}

// RecoverInstance processes every fired trigger owned by instanceID.
// Errors on individual records are logged and the pass continues.
func (r *Recoverer) RecoverInstance(ctx context.Context, instanceID string) (Result, error) {
	var res Result

	recs, err := r.store.FiredTriggers(ctx, instanceID)
	if err != nil {
		return res, fmt.Errorf("list fired triggers: %w", err)
	}
	if len(recs) == 0 {
		return res, nil
	}

	log.Printf("recovery: found %d fired triggers for instance=%s", len(recs), instanceID)

	for _, rec := range recs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		switch {
		case rec.State == domain.FiredStateAcquired:
			if err := r.store.ReleaseFiredTrigger(ctx, rec); err != nil {
				log.Printf("recovery: release trigger=%s error: %v", rec.TriggerKey, err)
				continue
			}
			res.Released++

		case rec.RequestsRecovery:
			trig := RecoveryTrigger(rec)
			if err := r.store.StoreTrigger(ctx, trig, true); err != nil {
				if !errors.Is(err, store.ErrJobNotFound) {
					log.Printf("recovery: store recovery trigger for job=%s error: %v", rec.JobKey, err)
					continue
				}
				log.Printf("recovery: job=%s no longer exists, dropping", rec.JobKey)
				res.Dropped++
			} else {
				log.Printf("recovery: job=%s will re-fire, scheduled_at=%s",
					rec.JobKey, rec.ScheduledAt.Format(time.RFC3339))
				res.Recovered++
			}
			if err := r.store.TriggeredJobComplete(ctx, rec); err != nil {
				log.Printf("recovery: complete trigger=%s error: %v", rec.TriggerKey, err)
			}

		default:
			if err := r.store.TriggeredJobComplete(ctx, rec); err != nil {
				log.Printf("recovery: complete trigger=%s error: %v", rec.TriggerKey, err)
				continue
			}
			res.Dropped++
		}
	}

	if r.metrics != nil {
		r.metrics.JobsRecovered(res.Recovered)
		r.metrics.TriggersReleased(res.Released)
	}
	log.Printf("recovery: instance=%s released=%d recovered=%d dropped=%d",
		instanceID, res.Released, res.Recovered, res.Dropped)
	return res, nil
}

// RecoveryTrigger builds the one-shot trigger that re-fires the job of an
// interrupted execution at its original scheduled time.
func RecoveryTrigger(rec domain.FiredTrigger) domain.Trigger {
	scheduled := rec.ScheduledAt
	return domain.Trigger{
		Key: domain.TriggerKey{
			Group: RecoveryGroup,
			Name:  fmt.Sprintf("recover_%s_%s", rec.InstanceID, rec.ID),
		},
		JobKey:             rec.JobKey,
		Description:        "recovery of " + rec.TriggerKey.String(),
		StartAt:            scheduled,
		Priority:           rec.Priority,
		MisfireInstruction: domain.MisfireIgnore,
		NextFireTime:       &scheduled,
		State:              domain.TriggerStateWaiting,
		Recovering:         true,
	}
}
