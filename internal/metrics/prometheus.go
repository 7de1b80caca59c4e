package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Runner metrics
	jobsClaimedTotal   prometheus.Counter
	jobOutcomesTotal   *prometheus.CounterVec
	jobDuration        prometheus.Histogram
	jobsRunning        prometheus.Gauge

	// Notifier metrics
	notifySentTotal    prometheus.Counter
	notifyFailedTotal  prometheus.Counter
	notifyRetriesTotal prometheus.Counter

	// Reaper metrics
	scansTotal      prometheus.Counter
	scanErrorsTotal prometheus.Counter
	jobsReapedTotal prometheus.Counter
	scanDuration    prometheus.Histogram

	// Scheduler metrics
	ticksTotal        prometheus.Counter
	tickErrorsTotal   prometheus.Counter
	jobsAdmittedTotal prometheus.Counter
	tickDuration      prometheus.Histogram

	// EventBus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Leader election metrics
	leaderStatus     prometheus.Gauge
	leaderLossesTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initRunnerMetrics(reg)
	s.initNotifierMetrics(reg)
	s.initReaperMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initRunnerMetrics(reg prometheus.Registerer) {
	s.jobsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_runner_jobs_claimed_total",
		Help: "Total number of jobs claimed by this worker process.",
	})
	s.jobOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdrjobs_runner_job_outcomes_total",
		Help: "Total number of terminal job outcomes recorded by the runner.",
	}, []string{"outcome"})
	s.jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdrjobs_runner_job_duration_seconds",
		Help:    "Wall time from claim to terminal record in seconds.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	})
	s.jobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdrjobs_runner_jobs_running",
		Help: "Number of jobs currently executing in this worker process.",
	})

	s.register(reg, s.jobsClaimedTotal, "cdrjobs_runner_jobs_claimed_total")
	s.register(reg, s.jobOutcomesTotal, "cdrjobs_runner_job_outcomes_total")
	s.register(reg, s.jobDuration, "cdrjobs_runner_job_duration_seconds")
	s.register(reg, s.jobsRunning, "cdrjobs_runner_jobs_running")
}

func (s *PrometheusSink) initNotifierMetrics(reg prometheus.Registerer) {
	s.notifySentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_notify_sent_total",
		Help: "Total number of completion emails delivered.",
	})
	s.notifyFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_notify_failed_total",
		Help: "Total number of completion emails abandoned after retries.",
	})
	s.notifyRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_notify_retries_total",
		Help: "Total number of delivery retries (excludes first attempt).",
	})

	s.register(reg, s.notifySentTotal, "cdrjobs_notify_sent_total")
	s.register(reg, s.notifyFailedTotal, "cdrjobs_notify_failed_total")
	s.register(reg, s.notifyRetriesTotal, "cdrjobs_notify_retries_total")
}

func (s *PrometheusSink) initReaperMetrics(reg prometheus.Registerer) {
	s.scansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_reaper_scans_total",
		Help: "Total number of reaper scan cycles.",
	})
	s.scanErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_reaper_scan_errors_total",
		Help: "Total number of reaper scan cycles that failed.",
	})
	s.jobsReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_reaper_jobs_reaped_total",
		Help: "Total number of running jobs failed by the reaper.",
	})
	s.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdrjobs_reaper_scan_duration_seconds",
		Help:    "Duration of each reaper scan in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.scansTotal, "cdrjobs_reaper_scans_total")
	s.register(reg, s.scanErrorsTotal, "cdrjobs_reaper_scan_errors_total")
	s.register(reg, s.jobsReapedTotal, "cdrjobs_reaper_jobs_reaped_total")
	s.register(reg, s.scanDuration, "cdrjobs_reaper_scan_duration_seconds")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.jobsAdmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_scheduler_jobs_admitted_total",
		Help: "Total number of jobs admitted from recurring schedules.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdrjobs_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.ticksTotal, "cdrjobs_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "cdrjobs_scheduler_tick_errors_total")
	s.register(reg, s.jobsAdmittedTotal, "cdrjobs_scheduler_jobs_admitted_total")
	s.register(reg, s.tickDuration, "cdrjobs_scheduler_tick_duration_seconds")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdrjobs_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdrjobs_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "cdrjobs_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "cdrjobs_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdrjobs_leader_status",
		Help: "1 while this process holds the coordinator lock, else 0.",
	})
	s.leaderLossesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cdrjobs_leader_losses_total",
		Help: "Total number of leadership losses by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "cdrjobs_leader_status")
	s.register(reg, s.leaderLossesTotal, "cdrjobs_leader_losses_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Runner metrics implementation

func (s *PrometheusSink) JobClaimed() {
	s.jobsClaimedTotal.Inc()
}

func (s *PrometheusSink) JobCompleted(outcome string, duration time.Duration) {
	s.jobOutcomesTotal.WithLabelValues(outcome).Inc()
	s.jobDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobsRunningIncr() {
	s.jobsRunning.Inc()
}

func (s *PrometheusSink) JobsRunningDecr() {
	s.jobsRunning.Dec()
}

// Notifier metrics implementation

func (s *PrometheusSink) NotifySent() {
	s.notifySentTotal.Inc()
}

func (s *PrometheusSink) NotifyFailed() {
	s.notifyFailedTotal.Inc()
}

func (s *PrometheusSink) NotifyRetried() {
	s.notifyRetriesTotal.Inc()
}

// Reaper metrics implementation

func (s *PrometheusSink) ScanStarted() {
	s.scansTotal.Inc()
}

func (s *PrometheusSink) ScanCompleted(duration time.Duration, reaped int, err error) {
	s.scanDuration.Observe(duration.Seconds())
	s.jobsReapedTotal.Add(float64(reaped))
	if err != nil {
		s.scanErrorsTotal.Inc()
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, jobsAdmitted int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.jobsAdmittedTotal.Add(float64(jobsAdmitted))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	// Capacity is static; exposed through the size gauge's help text
	// rather than its own series.
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossesTotal.WithLabelValues(reason).Inc()
}
