// Package runner executes claimed jobs. A fixed-size pool of workers
// loops claim -> execute -> record; terminal transitions are published
// on the event bus for the notifier.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store"
)

type Store interface {
	ClaimNext(ctx context.Context, host string, pid int) (domain.Job, error)
	UpdateStatus(ctx context.Context, id int64, next domain.JobStatus, message, artifactRef, artifactMIME string) error
	// SetProgress reports false when the job is no longer running,
	// which is how the worker observes an operator cancellation.
	SetProgress(ctx context.Context, id int64, message string) (bool, error)
	RunningOnHost(ctx context.Context, host string, limit int) ([]domain.Job, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.JobEvent) error
}

// Executor runs one job command to completion. progress is called for
// every non-empty output line; returning false from progress tells the
// executor the job was cancelled and the child must be stopped.
type Executor interface {
	Execute(ctx context.Context, job domain.Job, artifactPath string, progress func(line string) bool) ExecResult
}

// ExecResult is the outcome of one command invocation.
type ExecResult struct {
	ExitCode int
	Stderr   string
	Err      error // invocation-level failure, not a non-zero exit
}

// MetricsSink records runner metrics. Non-blocking.
type MetricsSink interface {
	JobClaimed()
	JobCompleted(outcome string, duration time.Duration)
	JobsRunningIncr()
	JobsRunningDecr()
}

type Config struct {
	Host          string
	Workers       int
	ClaimInterval time.Duration

	// ArtifactDir is the root of the per-job artifact namespace.
	ArtifactDir string
}

type Runner struct {
	config   Config
	store    Store
	executor Executor
	emitter  EventEmitter
	metrics  MetricsSink
	clock    func() time.Time
}

func New(config Config, st Store, executor Executor, emitter EventEmitter) *Runner {
	return &Runner{
		config:   config,
		store:    st,
		executor: executor,
		emitter:  emitter,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight jobs have been recorded. Alongside the pool, one goroutine
// ticks the approval finalizer so approved jobs get published even
// while every worker is busy with a saturated queue.
func (r *Runner) Run(ctx context.Context) {
	log.Printf("runner: started (host=%s, workers=%d, claim=%s)",
		r.config.Host, r.config.Workers, r.config.ClaimInterval)

	var wg sync.WaitGroup
	for i := 0; i < r.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workLoop(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.finalizeLoop(ctx)
	}()
	wg.Wait()
	log.Println("runner: stopped")
}

func (r *Runner) finalizeLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.finalizeApproved(ctx)
		}
	}
}

func (r *Runner) workLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := r.store.ClaimNext(ctx, r.config.Host, os.Getpid())
		if errors.Is(err, store.ErrNoneAvailable) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.ClaimInterval):
			}
			continue
		}
		if err != nil {
			log.Printf("runner: claim error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.ClaimInterval):
			}
			continue
		}

		if r.metrics != nil {
			r.metrics.JobClaimed()
			r.metrics.JobsRunningIncr()
		}
		r.execute(ctx, job)
		if r.metrics != nil {
			r.metrics.JobsRunningDecr()
		}
	}
}

// execute runs one claimed job and records its terminal state. The
// command owns the job's declared timeout; shutdown of the runner does
// not abort a running command mid-flight (the reaper covers a killed
// worker process).
func (r *Runner) execute(ctx context.Context, job domain.Job) {
	start := r.clock().UTC()
	log.Printf("runner: job=%d name=%q claimed", job.ID, job.Name)

	// Shutdown must not kill the child or lose the terminal record; the
	// job's own timeout bounds how long a drain can take.
	ctx = context.WithoutCancel(ctx)

	artifactPath, err := EnsureArtifactPath(r.config.ArtifactDir, job.ID)
	if err != nil {
		r.recordFailure(ctx, job, fmt.Sprintf("artifact dir: %v", err), start)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	cancelled := false
	progress := func(line string) bool {
		alive, err := r.store.SetProgress(ctx, job.ID, line)
		if err != nil {
			log.Printf("runner: job=%d progress write failed: %v", job.ID, err)
			return true
		}
		if !alive {
			cancelled = true
		}
		return alive
	}

	result := r.executor.Execute(execCtx, job, artifactPath, progress)

	switch {
	case cancelled:
		// The operator already moved the record to failure; nothing to
		// record, and the notifier was fed by that transition's caller.
		log.Printf("runner: job=%d cancelled by operator", job.ID)

	case execCtx.Err() == context.DeadlineExceeded:
		r.recordFailure(ctx, job, "timeout", start)

	case result.Err != nil:
		r.recordFailure(ctx, job, fmt.Sprintf("command failed: %v", result.Err), start)

	case result.ExitCode != 0:
		msg := fmt.Sprintf("exit status %d", result.ExitCode)
		if s := strings.TrimSpace(result.Stderr); s != "" {
			msg = s
		}
		r.recordFailure(ctx, job, msg, start)

	default:
		r.recordSuccess(ctx, job, artifactPath, start)
	}
}

func (r *Runner) recordSuccess(ctx context.Context, job domain.Job, artifactPath string, start time.Time) {
	mimeType, err := InspectArtifact(artifactPath)
	if err != nil {
		r.recordFailure(ctx, job, fmt.Sprintf("artifact: %v", err), start)
		return
	}

	if job.NeedsApproval {
		err := r.store.UpdateStatus(ctx, job.ID, domain.StatusWaitingApproval,
			"awaiting operator approval", "", "")
		if err != nil {
			r.logRecordError(job.ID, domain.StatusWaitingApproval, err)
			return
		}
		log.Printf("runner: job=%d awaiting approval", job.ID)
		return
	}

	err = r.store.UpdateStatus(ctx, job.ID, domain.StatusSuccess, "completed", artifactPath, mimeType)
	if err != nil {
		r.logRecordError(job.ID, domain.StatusSuccess, err)
		return
	}
	if r.metrics != nil {
		r.metrics.JobCompleted("success", r.clock().UTC().Sub(start))
	}
	log.Printf("runner: job=%d succeeded (artifact=%s)", job.ID, artifactPath)
	r.emit(ctx, job.ID, domain.StatusSuccess)
}

func (r *Runner) recordFailure(ctx context.Context, job domain.Job, reason string, start time.Time) {
	err := r.store.UpdateStatus(ctx, job.ID, domain.StatusFailure, reason, "", "")
	if err != nil {
		r.logRecordError(job.ID, domain.StatusFailure, err)
		return
	}
	if r.metrics != nil {
		r.metrics.JobCompleted("failure", r.clock().UTC().Sub(start))
	}
	log.Printf("runner: job=%d failed: %s", job.ID, reason)
	r.emit(ctx, job.ID, domain.StatusFailure)
}

func (r *Runner) logRecordError(id int64, next domain.JobStatus, err error) {
	if errors.Is(err, store.ErrIllegalTransition) {
		// The operator got there first; the record is authoritative.
		log.Printf("runner: job=%d already terminal, skipping %s", id, next)
		return
	}
	log.Printf("runner: job=%d record %s failed: %v", id, next, err)
}

func (r *Runner) emit(ctx context.Context, id int64, status domain.JobStatus) {
	event := domain.JobEvent{JobID: id, Status: status, OccurredAt: r.clock().UTC()}
	if err := r.emitter.Emit(ctx, event); err != nil {
		log.Printf("runner: job=%d emit failed: %v", id, err)
	}
}

// finalizeApproved publishes jobs an operator approved. Approval moves
// the record back to running with no pid; the finalize loop verifies
// the staged artifact and closes the job out.
func (r *Runner) finalizeApproved(ctx context.Context) {
	jobs, err := r.store.RunningOnHost(ctx, r.config.Host, 50)
	if err != nil {
		log.Printf("runner: finalize scan failed: %v", err)
		return
	}
	for _, job := range jobs {
		if job.PID != 0 {
			continue
		}
		artifactPath := ArtifactPath(r.config.ArtifactDir, job.ID)
		mimeType, err := InspectArtifact(artifactPath)
		if err != nil {
			r.recordFailure(ctx, job, fmt.Sprintf("approved artifact: %v", err), r.clock().UTC())
			continue
		}
		err = r.store.UpdateStatus(ctx, job.ID, domain.StatusSuccess,
			"approved and published", artifactPath, mimeType)
		if err != nil {
			r.logRecordError(job.ID, domain.StatusSuccess, err)
			continue
		}
		log.Printf("runner: job=%d approved artifact published", job.ID)
		r.emit(ctx, job.ID, domain.StatusSuccess)
	}
}
