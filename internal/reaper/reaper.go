// Package reaper fails running jobs whose worker process has died and
// running jobs that have exceeded their declared timeout. It is the
// backstop for workers killed without recording an outcome.
package reaper

import (
	"context"
	"log"
	"syscall"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

type Store interface {
	RunningOnHost(ctx context.Context, host string, limit int) ([]domain.Job, error)
	UpdateStatus(ctx context.Context, id int64, next domain.JobStatus, message, artifactRef, artifactMIME string) error
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.JobEvent) error
}

// MetricsSink records reaper metrics. Non-blocking.
type MetricsSink interface {
	ScanStarted()
	ScanCompleted(duration time.Duration, reaped int, err error)
}

type Config struct {
	Host      string
	Interval  time.Duration
	BatchSize int
}

type Reaper struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink

	// processAlive reports whether a pid still exists. Overridden in
	// tests.
	processAlive func(pid int) bool

	clock func() time.Time
}

func New(config Config, st Store, emitter EventEmitter) *Reaper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Reaper{
		config:       config,
		store:        st,
		emitter:      emitter,
		processAlive: processAlive,
		clock:        time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Reaper) WithMetrics(sink MetricsSink) *Reaper {
	r.metrics = sink
	return r
}

// Run scans on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	log.Printf("reaper: started (host=%s, interval=%s)", r.config.Host, r.config.Interval)
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("reaper: stopped")
			return
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

// scan examines every running job on this host and fails the dead and
// the overdue. Jobs with no pid are approval re-entries owned by the
// runner's finalize pass, not the reaper's business.
func (r *Reaper) scan(ctx context.Context) {
	start := r.clock()
	if r.metrics != nil {
		r.metrics.ScanStarted()
	}

	jobs, err := r.store.RunningOnHost(ctx, r.config.Host, r.config.BatchSize)
	if err != nil {
		log.Printf("reaper: scan failed: %v", err)
		if r.metrics != nil {
			r.metrics.ScanCompleted(r.clock().Sub(start), 0, err)
		}
		return
	}

	reaped := 0
	now := r.clock().UTC()
	for _, job := range jobs {
		if job.PID == 0 {
			continue
		}

		reason := ""
		switch {
		case job.StartedAt != nil && job.Timeout > 0 && now.Sub(*job.StartedAt) > job.Timeout:
			reason = "timeout"
		case !r.processAlive(job.PID):
			reason = "worker lost"
		default:
			continue
		}

		err := r.store.UpdateStatus(ctx, job.ID, domain.StatusFailure, reason, "", "")
		if err != nil {
			log.Printf("reaper: job=%d fail (%s): %v", job.ID, reason, err)
			continue
		}
		log.Printf("reaper: job=%d failed: %s", job.ID, reason)
		reaped++

		event := domain.JobEvent{JobID: job.ID, Status: domain.StatusFailure, OccurredAt: now}
		if err := r.emitter.Emit(ctx, event); err != nil {
			log.Printf("reaper: job=%d emit failed: %v", job.ID, err)
		}
	}

	if r.metrics != nil {
		r.metrics.ScanCompleted(r.clock().Sub(start), reaped, nil)
	}
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
