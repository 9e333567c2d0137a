package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	cyclesTotal        prometheus.Counter
	cycleErrorsTotal   prometheus.Counter
	cycleDuration      prometheus.Histogram
	triggersAcquired   prometheus.Counter
	triggersFiredTotal prometheus.Counter
	fireLateness       prometheus.Histogram
	misfiresTotal      prometheus.Counter

	// Thread pool metrics
	jobsExecutedTotal *prometheus.CounterVec
	jobDuration       prometheus.Histogram
	jobRefiresTotal   prometheus.Counter
	jobsInFlight      prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Recovery and cluster metrics
	jobsRecoveredTotal    prometheus.Counter
	triggersReleasedTotal prometheus.Counter
	checkinsTotal         *prometheus.CounterVec
	failedInstancesTotal  prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
// Metrics that fail to register still record values but are not exported.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initThreadPoolMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initRecoveryMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_scheduler_cycles_total",
		Help: "Total number of acquire/fire cycles run by the scheduler loop.",
	})
	s.cycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_scheduler_cycle_errors_total",
		Help: "Total number of scheduler cycles that ended with an error.",
	})
	s.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedbench_scheduler_cycle_duration_seconds",
		Help:    "Duration of each scheduler cycle in seconds, including waits for fire times.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
	})
	s.triggersAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_scheduler_triggers_acquired_total",
		Help: "Total number of triggers acquired from the job store.",
	})
	s.triggersFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_scheduler_triggers_fired_total",
		Help: "Total number of triggers fired.",
	})
	s.fireLateness = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedbench_scheduler_fire_lateness_seconds",
		Help:    "Difference between actual and scheduled fire time in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 60},
	})
	s.misfiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_scheduler_misfires_total",
		Help: "Total number of triggers handled by their misfire instruction.",
	})

	s.register(reg, s.cyclesTotal, "schedbench_scheduler_cycles_total")
	s.register(reg, s.cycleErrorsTotal, "schedbench_scheduler_cycle_errors_total")
	s.register(reg, s.cycleDuration, "schedbench_scheduler_cycle_duration_seconds")
	s.register(reg, s.triggersAcquired, "schedbench_scheduler_triggers_acquired_total")
	s.register(reg, s.triggersFiredTotal, "schedbench_scheduler_triggers_fired_total")
	s.register(reg, s.fireLateness, "schedbench_scheduler_fire_lateness_seconds")
	s.register(reg, s.misfiresTotal, "schedbench_scheduler_misfires_total")
}

func (s *PrometheusSink) initThreadPoolMetrics(reg prometheus.Registerer) {
	s.jobsExecutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedbench_threadpool_jobs_executed_total",
		Help: "Total number of job executions by outcome.",
	}, []string{"outcome"})

	s.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedbench_threadpool_job_duration_seconds",
		Help:    "Job execution time in seconds (last attempt only).",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})

	s.jobRefiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_threadpool_job_refires_total",
		Help: "Total number of immediate refires requested by jobs.",
	})

	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedbench_threadpool_jobs_in_flight",
		Help: "Number of jobs currently executing.",
	})

	s.register(reg, s.jobsExecutedTotal, "schedbench_threadpool_jobs_executed_total")
	s.register(reg, s.jobDuration, "schedbench_threadpool_job_duration_seconds")
	s.register(reg, s.jobRefiresTotal, "schedbench_threadpool_job_refires_total")
	s.register(reg, s.jobsInFlight, "schedbench_threadpool_jobs_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedbench_eventbus_buffer_size",
		Help: "Current number of fired triggers in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedbench_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "schedbench_eventbus_buffer_saturation",
		Help: "Event bus buffer occupancy as a ratio of capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "schedbench_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "schedbench_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "schedbench_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "schedbench_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initRecoveryMetrics(reg prometheus.Registerer) {
	s.jobsRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_recovery_jobs_recovered_total",
		Help: "Total number of interrupted jobs scheduled for re-fire.",
	})
	s.triggersReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_recovery_triggers_released_total",
		Help: "Total number of acquired triggers handed back during recovery.",
	})
	s.checkinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedbench_cluster_checkins_total",
		Help: "Total number of cluster check-ins by result.",
	}, []string{"result"})
	s.failedInstancesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedbench_cluster_failed_instances_recovered_total",
		Help: "Total number of failed cluster instances recovered.",
	})

	s.register(reg, s.jobsRecoveredTotal, "schedbench_recovery_jobs_recovered_total")
	s.register(reg, s.triggersReleasedTotal, "schedbench_recovery_triggers_released_total")
	s.register(reg, s.checkinsTotal, "schedbench_cluster_checkins_total")
	s.register(reg, s.failedInstancesTotal, "schedbench_cluster_failed_instances_recovered_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.cyclesTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, triggersFired int, err error) {
	s.cycleDuration.Observe(duration.Seconds())
	if err != nil {
		s.cycleErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TriggersAcquired(count int) {
	s.triggersAcquired.Add(float64(count))
}

func (s *PrometheusSink) TriggerFired(lateness time.Duration) {
	s.triggersFiredTotal.Inc()
	d := lateness.Seconds()
	if d < 0 {
		d = 0
	}
	s.fireLateness.Observe(d)
}

func (s *PrometheusSink) MisfireHandled() {
	s.misfiresTotal.Inc()
}

// Thread pool metrics implementation

func (s *PrometheusSink) JobExecuted(duration time.Duration, outcome string) {
	s.jobsExecutedTotal.WithLabelValues(outcome).Inc()
	s.jobDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobRefired() {
	s.jobRefiresTotal.Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Recovery and cluster metrics implementation

func (s *PrometheusSink) JobsRecovered(count int) {
	s.jobsRecoveredTotal.Add(float64(count))
}

func (s *PrometheusSink) TriggersReleased(count int) {
	s.triggersReleasedTotal.Add(float64(count))
}

func (s *PrometheusSink) ClusterCheckin(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.checkinsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) FailedInstancesRecovered(count int) {
	s.failedInstancesTotal.Add(float64(count))
}
