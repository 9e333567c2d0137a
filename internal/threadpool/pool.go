package threadpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/djlord-it/schedbench/internal/domain"
)

var defaultRefireBackoff = []time.Duration{
	0,
	100 * time.Millisecond,
	time.Second,
}

const (
	DefaultThreadCount  = 10
	DefaultMaxRefires   = 3
	DefaultDrainTimeout = 30 * time.Second
)

// Outcome values reported to metrics and analytics.
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeUnknownJob = "unknown_job"
)

var ErrUnknownJobType = errors.New("no job registered for type")

type Store interface {
	TriggeredJobComplete(ctx context.Context, rec domain.FiredTrigger) error
}

type AnalyticsSink interface {
	Record(ctx context.Context, event domain.FiredEvent, outcome string)
}

// MetricsSink defines the interface for recording thread pool metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobExecuted(duration time.Duration, outcome string)
	JobRefired()
	JobsInFlightIncr()
	JobsInFlightDecr()
}

type Pool struct {
	store        Store
	registry     *Registry
	threadCount  int
	maxRefires   int
	backoff      []time.Duration
	drainTimeout time.Duration
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	clock        func() time.Time
}

func New(store Store, registry *Registry, threadCount int) *Pool {
	if threadCount <= 0 {
		threadCount = DefaultThreadCount
	}
	return &Pool{
		store:        store,
		registry:     registry,
		threadCount:  threadCount,
		maxRefires:   DefaultMaxRefires,
		backoff:      defaultRefireBackoff,
		drainTimeout: DefaultDrainTimeout,
		clock:        time.Now,
	}
}

func (p *Pool) WithAnalytics(sink AnalyticsSink) *Pool {
	p.analytics = sink
	return p
}

// WithMetrics attaches a metrics sink to the pool.
func (p *Pool) WithMetrics(sink MetricsSink) *Pool {
	p.metrics = sink
	return p
}

// WithDrainTimeout bounds how long buffered events are processed after
// shutdown starts.
func (p *Pool) WithDrainTimeout(d time.Duration) *Pool {
	if d > 0 {
		p.drainTimeout = d
	}
	return p
}

// Run starts threadCount workers reading ch until ctx is cancelled, then
// drains the remaining buffered events. Jobs already executing are allowed
// to finish; they do not see ctx's cancellation.
func (p *Pool) Run(ctx context.Context, ch <-chan domain.FiredEvent) {
	log.Printf("threadpool: started, threads=%d", p.threadCount)
	jobCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.threadCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-ch:
					if !ok {
						return
					}
					if err := p.Execute(jobCtx, event); err != nil {
						log.Printf("threadpool: error: %v", err)
					}
				}
			}
		}()
	}
	wg.Wait()

	p.drain(ch)
	log.Println("threadpool: stopped")
}

// drain processes events still buffered in ch after shutdown, spread over
// the pool's workers and bounded by the drain timeout.
func (p *Pool) drain(ch <-chan domain.FiredEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)
	for i := 0; i < p.threadCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-drainCtx.Done():
					return
				case event, ok := <-ch:
					if !ok {
						return
					}
					if err := p.Execute(drainCtx, event); err != nil {
						log.Printf("threadpool: drain error: %v", err)
					}
					mu.Lock()
					count++
					mu.Unlock()
				default:
					return
				}
			}
		}()
	}
	wg.Wait()

	if drainCtx.Err() != nil {
		log.Printf("threadpool: drain timeout, processed %d events", count)
		return
	}
	if count > 0 {
		log.Printf("threadpool: drain complete, processed %d events", count)
	}
}

// Execute runs the job for event, refiring while the job asks for it, and
// then marks the fired trigger complete in the store.
func (p *Pool) Execute(ctx context.Context, event domain.FiredEvent) error {
	if p.metrics != nil {
		p.metrics.JobsInFlightIncr()
		defer p.metrics.JobsInFlightDecr()
	}

	job, ok := p.registry.Lookup(event.Job.JobType)
	if !ok {
		log.Printf("threadpool: job=%s unknown type=%q", event.Job.Key, event.Job.JobType)
		p.record(ctx, event, 0, OutcomeUnknownJob)
		if err := p.complete(ctx, event); err != nil {
			return err
		}
		return fmt.Errorf("job %s: %w %q", event.Job.Key, ErrUnknownJobType, event.Job.JobType)
	}

	jc := domain.NewExecutionContext(event)
	var (
		jobErr   error
		duration time.Duration
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if p.metrics != nil {
				p.metrics.JobRefired()
			}
			if !p.wait(ctx, attempt) {
				jobErr = ctx.Err()
				break
			}
			log.Printf("threadpool: job=%s refire=%d", event.Job.Key, attempt)
		}

		jc.RefireCount = attempt
		start := p.clock()
		jobErr = runJob(ctx, job, jc)
		duration = p.clock().Sub(start)

		if !domain.IsRefire(jobErr) || attempt >= p.maxRefires {
			break
		}
	}

	outcome := OutcomeSuccess
	if jobErr != nil {
		outcome = OutcomeFailed
		log.Printf("threadpool: job=%s failed: %v", event.Job.Key, jobErr)
	}
	p.record(ctx, event, duration, outcome)

	return p.complete(ctx, event)
}

func (p *Pool) wait(ctx context.Context, attempt int) bool {
	idx := attempt
	if idx >= len(p.backoff) {
		idx = len(p.backoff) - 1
	}
	backoff := p.backoff[idx]
	if backoff <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pool) record(ctx context.Context, event domain.FiredEvent, duration time.Duration, outcome string) {
	if p.metrics != nil {
		p.metrics.JobExecuted(duration, outcome)
	}
	if p.analytics != nil {
		p.analytics.Record(ctx, event, outcome)
	}
}

func (p *Pool) complete(ctx context.Context, event domain.FiredEvent) error {
	if err := p.store.TriggeredJobComplete(context.WithoutCancel(ctx), event.Record); err != nil {
		return fmt.Errorf("complete %s: %w", event.Trigger.Key, err)
	}
	return nil
}

// runJob executes job, turning a panic into an error.
func runJob(ctx context.Context, job domain.Job, jc domain.JobExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx, jc)
}
