// Package engine assembles the job store, scheduler loop, thread pool,
// recovery and cluster management into a single scheduler instance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/schedbench/internal/analytics"
	"github.com/djlord-it/schedbench/internal/api"
	"github.com/djlord-it/schedbench/internal/cluster"
	"github.com/djlord-it/schedbench/internal/config"
	"github.com/djlord-it/schedbench/internal/cron"
	"github.com/djlord-it/schedbench/internal/domain"
	"github.com/djlord-it/schedbench/internal/metrics"
	"github.com/djlord-it/schedbench/internal/recovery"
	"github.com/djlord-it/schedbench/internal/scheduler"
	"github.com/djlord-it/schedbench/internal/store"
	"github.com/djlord-it/schedbench/internal/store/memory"
	"github.com/djlord-it/schedbench/internal/store/sqlstore"
	"github.com/djlord-it/schedbench/internal/threadpool"
	"github.com/djlord-it/schedbench/internal/transport/channel"
	"github.com/djlord-it/schedbench/internal/trigger"
)

const httpShutdownTimeout = 10 * time.Second

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrShutdown       = errors.New("engine is shut down")
	ErrNeverFires     = errors.New("trigger will never fire")
)

type Option func(*Engine)

// WithStore uses s instead of opening the store named by the configuration.
func WithStore(s store.JobStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithClock overrides the time source of the scheduler loop and cluster
// manager.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithRegisterer registers metrics with reg instead of a private registry.
func WithRegisterer(reg *prometheus.Registry) Option {
	return func(e *Engine) {
		e.promRegistry = reg
	}
}

type Engine struct {
	cfg   config.Config
	clock func() time.Time

	store     store.JobStore
	parser    *cron.Parser
	registry  *threadpool.Registry
	bus       *channel.EventBus
	sched     *scheduler.Scheduler
	pool      *threadpool.Pool
	recoverer *recovery.Recoverer
	cluster   *cluster.Manager

	metricsSink  metrics.Sink
	promRegistry *prometheus.Registry
	analytics    *analytics.RedisSink
	servers      []*http.Server

	mu       sync.Mutex
	started  bool
	shutdown bool

	cancelScheduler context.CancelFunc
	cancelCluster   context.CancelFunc
	cancelPool      context.CancelFunc
	schedulerWg     sync.WaitGroup
	clusterWg       sync.WaitGroup
	poolWg          sync.WaitGroup
	serverWg        sync.WaitGroup
}

// New opens the job store and builds every component. Nothing runs until
// Start is called.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		clock:    time.Now,
		parser:   cron.NewParser(),
		registry: threadpool.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		s, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		e.store = s
	}

	e.metricsSink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		if e.promRegistry == nil {
			e.promRegistry = prometheus.NewRegistry()
			e.promRegistry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		e.metricsSink = metrics.NewPrometheusSink(e.promRegistry)
		log.Printf("engine: metrics enabled (addr=%s, path=%s)", cfg.MetricsAddr, cfg.MetricsPath)
	} else {
		log.Println("engine: metrics.enabled not set; metrics disabled")
	}

	e.bus = channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(e.metricsSink))

	e.sched = scheduler.New(
		scheduler.Config{
			InstanceID:       cfg.InstanceID,
			IdleWaitTime:     cfg.IdleWaitTime,
			MaxBatchSize:     cfg.MaxBatchSize,
			MisfireThreshold: cfg.MisfireThreshold,
		},
		e.store,
		e.parser,
		e.bus,
	).WithMetrics(e.metricsSink).WithClock(e.clock)

	e.pool = threadpool.New(e.store, e.registry, cfg.ThreadCount).
		WithMetrics(e.metricsSink).
		WithDrainTimeout(cfg.DrainTimeout)

	if cfg.RedisAddr != "" {
		e.analytics = analytics.NewRedisSink(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), analytics.Config{
			KeyPrefix: analytics.DefaultKeyPrefix + ":" + cfg.InstanceName,
		})
		e.pool = e.pool.WithAnalytics(e.analytics)
		log.Printf("engine: analytics enabled (redis=%s)", cfg.RedisAddr)
	}

	e.recoverer = recovery.New(e.store).WithMetrics(e.metricsSink)

	if cfg.Clustered {
		e.cluster = cluster.New(
			cluster.Config{
				InstanceID:      cfg.InstanceID,
				CheckinInterval: cfg.ClusterCheckinInterval,
			},
			e.store,
			e.recoverer,
		).WithMetrics(e.metricsSink).WithClock(e.clock)
		if locker, ok := e.store.(cluster.Locker); ok {
			e.cluster = e.cluster.WithLocker(locker)
		}
	}

	return e, nil
}

func openStore(cfg config.Config) (store.JobStore, error) {
	switch cfg.JobStoreDriver {
	case "", config.DriverMemory:
		log.Println("engine: using in-memory job store")
		return memory.New(), nil
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Driver:         cfg.JobStoreDriver,
			URL:            cfg.DataSourceURL,
			TablePrefix:    cfg.TablePrefix,
			MaxConnections: cfg.MaxConnections,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: open job store: %w", err)
		}
		log.Printf("engine: using %s job store (prefix=%s)", cfg.JobStoreDriver, cfg.TablePrefix)
		return s, nil
	}
}

// Store returns the underlying job store.
func (e *Engine) Store() store.JobStore {
	return e.store
}

// RegisterJob binds jobType to the job executed when a matching JobDetail
// fires.
func (e *Engine) RegisterJob(jobType string, job domain.Job) {
	e.registry.Register(jobType, job)
}

// Clear removes all jobs, triggers and fired-trigger records.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.ClearAllSchedulingData(ctx); err != nil {
		return fmt.Errorf("engine: clear: %w", err)
	}
	log.Println("engine: cleared all scheduling data")
	e.sched.Signal()
	return nil
}

// ScheduleJob stores job together with trig and returns the trigger's first
// fire time.
func (e *Engine) ScheduleJob(ctx context.Context, job domain.JobDetail, trig domain.Trigger) (time.Time, error) {
	if job.Key.Group == "" {
		job.Key.Group = domain.DefaultGroup
	}
	if trig.Key.Group == "" {
		trig.Key.Group = domain.DefaultGroup
	}
	if trig.JobKey == (domain.JobKey{}) {
		trig.JobKey = job.Key
	}
	if trig.JobKey != job.Key {
		return time.Time{}, fmt.Errorf("%w: trigger %s references job %s, not %s",
			trigger.ErrInvalidTrigger, trig.Key, trig.JobKey, job.Key)
	}

	if err := trigger.Validate(trig, e.parser); err != nil {
		return time.Time{}, err
	}
	if err := trigger.ComputeFirstFireTime(&trig, e.parser); err != nil {
		return time.Time{}, err
	}
	if trig.NextFireTime == nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNeverFires, trig.Key)
	}

	if _, ok := e.registry.Lookup(job.JobType); !ok {
		log.Printf("engine: warning: no job registered for type=%s job=%s", job.JobType, job.Key)
	}

	if err := e.store.StoreJobAndTrigger(ctx, job, trig, false); err != nil {
		return time.Time{}, fmt.Errorf("engine: schedule %s: %w", trig.Key, err)
	}

	log.Printf("engine: scheduled job=%s trigger=%s first_fire=%s",
		job.Key, trig.Key, trig.NextFireTime.Format(time.RFC3339))
	e.sched.Signal()
	return *trig.NextFireTime, nil
}

// Start recovers work this instance left behind in a previous run and then
// launches the scheduler loop, thread pool, cluster manager and HTTP servers.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return ErrShutdown
	}
	if e.started {
		return ErrAlreadyStarted
	}

	if _, err := e.recoverer.RecoverInstance(ctx, e.cfg.InstanceID); err != nil {
		return fmt.Errorf("engine: recover instance %s: %w", e.cfg.InstanceID, err)
	}

	e.startServers()

	var poolCtx, clusterCtx, schedulerCtx context.Context
	poolCtx, e.cancelPool = context.WithCancel(context.Background())
	e.poolWg.Add(1)
	go func() {
		defer e.poolWg.Done()
		e.pool.Run(poolCtx, e.bus.Channel())
	}()

	if e.cluster != nil {
		clusterCtx, e.cancelCluster = context.WithCancel(context.Background())
		e.clusterWg.Add(1)
		go func() {
			defer e.clusterWg.Done()
			e.cluster.Run(clusterCtx)
		}()
	}

	schedulerCtx, e.cancelScheduler = context.WithCancel(context.Background())
	e.schedulerWg.Add(1)
	go func() {
		defer e.schedulerWg.Done()
		_ = e.sched.Run(schedulerCtx)
	}()

	e.started = true
	log.Printf("engine: started (instance=%s, threads=%d, store=%s, clustered=%t)",
		e.cfg.InstanceID, e.cfg.ThreadCount, e.cfg.JobStoreDriver, e.cfg.Clustered)
	return nil
}

func (e *Engine) startServers() {
	if e.promRegistry != nil && e.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(e.cfg.MetricsPath, promhttp.HandlerFor(e.promRegistry, promhttp.HandlerOpts{}))
		e.serve("metrics", &http.Server{Addr: e.cfg.MetricsAddr, Handler: mux})
	}

	if e.cfg.APIAddr != "" {
		handler := api.NewHandler(e.store, e.cfg.InstanceID)
		if hc, ok := e.store.(api.HealthChecker); ok {
			handler = handler.WithHealthChecker(hc)
		}
		if e.analytics != nil {
			handler = handler.WithComponent("analytics", e.analytics)
		}
		e.serve("api", &http.Server{Addr: e.cfg.APIAddr, Handler: handler})
	}
}

func (e *Engine) serve(name string, srv *http.Server) {
	e.servers = append(e.servers, srv)
	e.serverWg.Add(1)
	go func() {
		defer e.serverWg.Done()
		log.Printf("engine: %s server listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("engine: %s server error: %v", name, err)
		}
	}()
}

// Shutdown stops the engine in order: scheduler loop, cluster manager,
// thread pool, HTTP servers and finally the job store. With waitForJobs the
// call blocks until buffered and executing jobs have finished.
func (e *Engine) Shutdown(waitForJobs bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return nil
	}
	e.shutdown = true

	if e.started {
		// Phase 1: Stop scheduler (acquired triggers are released)
		log.Println("engine: stopping scheduler...")
		e.cancelScheduler()
		e.schedulerWg.Wait()
		log.Println("engine: scheduler stopped")

		// Phase 2: Stop cluster check-in
		if e.cancelCluster != nil {
			log.Println("engine: stopping cluster manager...")
			e.cancelCluster()
			e.clusterWg.Wait()
			log.Println("engine: cluster manager stopped")
		}

		// Phase 3: Stop thread pool
		e.cancelPool()
		if waitForJobs {
			log.Println("engine: stopping thread pool (waiting for jobs)...")
			e.poolWg.Wait()
			log.Println("engine: thread pool stopped")
		} else {
			log.Println("engine: thread pool stopping without waiting for jobs")
		}

		// Phase 4: Stop HTTP servers
		for _, srv := range e.servers {
			ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			if err := srv.Shutdown(ctx); err != nil {
				log.Printf("engine: server %s shutdown error: %v", srv.Addr, err)
			}
			cancel()
		}
		e.serverWg.Wait()
	}

	if e.analytics != nil {
		if err := e.analytics.Close(); err != nil {
			log.Printf("engine: redis close error: %v", err)
		}
	}

	// Phase 5: Close the store once no job can complete against it
	if !e.started || waitForJobs {
		if err := e.store.Close(); err != nil {
			return fmt.Errorf("engine: close job store: %w", err)
		}
	}

	log.Println("engine: stopped")
	return nil
}
