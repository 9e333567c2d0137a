package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/store"
	"github.com/djlord-it/schedbench/internal/trigger"
)

const (
	DefaultIdleWaitTime     = 30 * time.Second
	DefaultMisfireThreshold = 60 * time.Second

	releaseTimeout = 5 * time.Second
)

type Store interface {
	AcquireNextTriggers(ctx context.Context, instanceID string, noLaterThan time.Time, maxCount int) ([]domain.Trigger, error)
	ReleaseAcquiredTrigger(ctx context.Context, instanceID string, trig domain.Trigger) error
	RemoveTrigger(ctx context.Context, key domain.TriggerKey) error
	TriggerFired(ctx context.Context, instanceID string, trig domain.Trigger, scheduledAt, firedAt time.Time) (domain.FiredTrigger, domain.JobDetail, error)
	TriggeredJobComplete(ctx context.Context, rec domain.FiredTrigger) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.FiredEvent) error
}

// MetricsSink records scheduler loop metrics. Methods must not block.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, triggersFired int, err error)
	TriggersAcquired(count int)
	TriggerFired(lateness time.Duration)
	MisfireHandled()
}

type Config struct {
	InstanceID       string
	IdleWaitTime     time.Duration
	MaxBatchSize     int
	MisfireThreshold time.Duration
}

type Scheduler struct {
	config  Config
	store   Store
	parser  trigger.CronParser
	emitter EventEmitter
	clock   func() time.Time
	metrics MetricsSink
	wake    chan struct{}
}

func New(config Config, store Store, parser trigger.CronParser, emitter EventEmitter) *Scheduler {
	if config.IdleWaitTime <= 0 {
		config.IdleWaitTime = DefaultIdleWaitTime
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 1
	}
	if config.MisfireThreshold <= 0 {
		config.MisfireThreshold = DefaultMisfireThreshold
	}
	return &Scheduler{
		config:  config,
		store:   store,
		parser:  parser,
		emitter: emitter,
		clock:   time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Signal wakes the run loop so newly stored triggers are seen before the
// idle wait elapses. It never blocks.
func (s *Scheduler) Signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("scheduler: started, instance=%s idle_wait=%s batch=%d",
		s.config.InstanceID, s.config.IdleWaitTime, s.config.MaxBatchSize)

	for {
		if ctx.Err() != nil {
			log.Println("scheduler: stopped")
			return ctx.Err()
		}

		acquired, err := s.processCycle(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("scheduler: cycle error: %v", err)
		}
		if acquired > 0 && err == nil {
			continue
		}

		timer := time.NewTimer(s.config.IdleWaitTime)
		select {
		case <-ctx.Done():
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// processCycle acquires the next batch of due triggers and fires them as
// their fire times arrive. It returns the number of triggers acquired.
func (s *Scheduler) processCycle(ctx context.Context) (int, error) {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	fired, acquired, err := s.runBatch(ctx)

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), fired, err)
	}
	return acquired, err
}

func (s *Scheduler) runBatch(ctx context.Context) (fired, acquired int, err error) {
	now := s.clock().UTC()
	window := now.Add(s.config.IdleWaitTime)

	triggers, err := s.store.AcquireNextTriggers(ctx, s.config.InstanceID, window, s.config.MaxBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("acquire triggers: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TriggersAcquired(len(triggers))
	}
	if len(triggers) == 0 {
		return 0, 0, nil
	}

	batch, err := s.prepareBatch(ctx, triggers, now, window)
	if err != nil {
		return 0, len(triggers), err
	}

	for i, t := range batch {
		if !s.waitUntil(ctx, *t.NextFireTime) {
			s.release(ctx, batch[i:])
			return fired, len(triggers), nil
		}
		ok, err := s.fire(ctx, t)
		if err != nil {
			log.Printf("scheduler: trigger %s error: %v", t.Key, err)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, len(triggers), nil
}

// prepareBatch applies misfire handling and drops triggers that no longer
// fire within the acquisition window. The result is in fire order.
func (s *Scheduler) prepareBatch(ctx context.Context, triggers []domain.Trigger, now, window time.Time) ([]domain.Trigger, error) {
	batch := make([]domain.Trigger, 0, len(triggers))
	for _, t := range triggers {
		if trigger.IsMisfired(t, now, s.config.MisfireThreshold) {
			missed := *t.NextFireTime
			if err := trigger.ApplyMisfire(&t, now, s.parser); err != nil {
				log.Printf("scheduler: misfire %s error: %v", t.Key, err)
				s.release(ctx, []domain.Trigger{t})
				continue
			}
			if s.metrics != nil {
				s.metrics.MisfireHandled()
			}
			log.Printf("scheduler: misfire trigger=%s missed=%s next=%s",
				t.Key, missed.Format(time.RFC3339), formatTime(t.NextFireTime))
		}

		switch {
		case t.NextFireTime == nil:
			if err := s.store.RemoveTrigger(ctx, t.Key); err != nil && !errors.Is(err, store.ErrTriggerNotFound) {
				return nil, fmt.Errorf("remove trigger %s: %w", t.Key, err)
			}
		case t.NextFireTime.After(window):
			if err := s.store.ReleaseAcquiredTrigger(ctx, s.config.InstanceID, t); err != nil {
				return nil, fmt.Errorf("release trigger %s: %w", t.Key, err)
			}
		default:
			batch = append(batch, t)
		}
	}
	sort.SliceStable(batch, func(i, j int) bool { return store.Less(batch[i], batch[j]) })
	return batch, nil
}

// waitUntil blocks until at, returning false if woken or cancelled first.
func (s *Scheduler) waitUntil(ctx context.Context, at time.Time) bool {
	d := at.Sub(s.clock())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) fire(ctx context.Context, t domain.Trigger) (bool, error) {
	scheduledAt := *t.NextFireTime
	previous := t.Clone().PreviousFireTime

	advanced := t.Clone()
	if err := trigger.Triggered(&advanced, s.parser); err != nil {
		return false, fmt.Errorf("advance trigger: %w", err)
	}

	firedAt := s.clock().UTC()
	rec, job, err := s.store.TriggerFired(ctx, s.config.InstanceID, advanced, scheduledAt, firedAt)
	if err != nil {
		if errors.Is(err, store.ErrTriggerNotFound) {
			// Removed or recovered by another instance since acquisition.
			return false, nil
		}
		return false, fmt.Errorf("trigger fired: %w", err)
	}

	event := domain.FiredEvent{
		Record:            rec,
		Job:               job,
		Trigger:           advanced,
		ScheduledFireTime: scheduledAt,
		FireTime:          firedAt,
		PreviousFireTime:  previous,
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		if cerr := s.store.TriggeredJobComplete(context.WithoutCancel(ctx), rec); cerr != nil {
			log.Printf("scheduler: complete after emit failure %s error: %v", t.Key, cerr)
		}
		return false, fmt.Errorf("emit: %w", err)
	}

	if s.metrics != nil {
		s.metrics.TriggerFired(firedAt.Sub(scheduledAt))
	}
	log.Printf("scheduler: fired trigger=%s job=%s scheduled_at=%s",
		t.Key, job.Key, scheduledAt.Format(time.RFC3339))
	return true, nil
}

// release hands unfired triggers back to the store. It runs on a fresh
// context when ctx is already cancelled.
func (s *Scheduler) release(ctx context.Context, triggers []domain.Trigger) {
	if len(triggers) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for _, t := range triggers {
		if err := s.store.ReleaseAcquiredTrigger(rctx, s.config.InstanceID, t); err != nil {
			log.Printf("scheduler: release %s error: %v", t.Key, err)
		}
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(time.RFC3339)
}
