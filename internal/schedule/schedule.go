// Package schedule admits recurring report jobs. When an enabled
// schedule's cron expression fires, the leader admits a fresh job from
// the stored parameters, exactly as if an administrator had submitted
// it.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/jobdefs"
)

type Store interface {
	EnabledSchedules(ctx context.Context) ([]domain.Schedule, error)
	// MarkScheduleFired advances the last-fired watermark; false means
	// another instance already owns this slot.
	MarkScheduleFired(ctx context.Context, id int64, firedAt time.Time) (bool, error)
	CreateJob(ctx context.Context, job domain.Job) (int64, error)
}

type Registry interface {
	Get(name string) (jobdefs.Definition, bool)
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records schedule-loop metrics. Non-blocking.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsAdmitted int, err error)
}

type Config struct {
	TickInterval time.Duration

	// Host is recorded on admitted jobs whose definition pins none.
	Host string

	// DefaultTimeout applies when the job definition declares none.
	DefaultTimeout time.Duration

	// SubmitterEmail identifies the scheduler's system user on the
	// jobs it admits.
	SubmitterEmail string
}

type Scheduler struct {
	config   Config
	store    Store
	registry Registry
	parser   CronParser
	metrics  MetricsSink
	clock    func() time.Time
}

func New(config Config, store Store, registry Registry, parser CronParser) *Scheduler {
	return &Scheduler{
		config:   config,
		store:    store,
		registry: registry,
		parser:   parser,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the time source, for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks until ctx is cancelled. Call only while holding leadership;
// the MarkScheduleFired guard makes a failover overlap harmless.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("schedule: started, tick=%s", s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("schedule: stopped")
			return
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Printf("schedule: tick error: %v", err)
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) error {
	start := s.clock().UTC()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	schedules, err := s.store.EnabledSchedules(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.TickCompleted(s.clock().UTC().Sub(start), 0, err)
		}
		return fmt.Errorf("get schedules: %w", err)
	}

	admitted := 0
	for _, sched := range schedules {
		ok, err := s.processSchedule(ctx, sched, start)
		if err != nil {
			log.Printf("schedule: %d (%s) error: %v", sched.ID, sched.Name, err)
			continue
		}
		if ok {
			admitted++
		}
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().UTC().Sub(start), admitted, nil)
	}
	return nil
}

// processSchedule admits at most one job: the most recent due slot. A
// backlog of missed slots collapses into a single run, since a report
// regenerated now covers the missed windows anyway.
func (s *Scheduler) processSchedule(ctx context.Context, sched domain.Schedule, now time.Time) (bool, error) {
	cronSched, err := s.parser.Parse(sched.CronExpression, sched.Timezone)
	if err != nil {
		return false, fmt.Errorf("parse cron: %w", err)
	}

	// Walk due slots forward from the watermark to find the latest one.
	after := now.Add(-24 * time.Hour)
	if sched.LastFiredAt != nil {
		after = *sched.LastFiredAt
	}

	var due time.Time
	const maxIterations = 1000
	t := cronSched.Next(after)
	for i := 0; i < maxIterations && !t.After(now); i++ {
		due = t
		t = cronSched.Next(t)
	}
	if due.IsZero() {
		return false, nil
	}

	won, err := s.store.MarkScheduleFired(ctx, sched.ID, due.UTC())
	if err != nil {
		return false, fmt.Errorf("mark fired: %w", err)
	}
	if !won {
		// Another instance already admitted this slot.
		return false, nil
	}

	id, err := s.admit(ctx, sched, now)
	if err != nil {
		return false, fmt.Errorf("admit: %w", err)
	}

	log.Printf("schedule: admitted job=%d name=%s slot=%s", id, sched.Name, due.Format(time.RFC3339))
	return true, nil
}

func (s *Scheduler) admit(ctx context.Context, sched domain.Schedule, now time.Time) (int64, error) {
	def, ok := s.registry.Get(sched.Name)
	if !ok {
		return 0, fmt.Errorf("no job definition %q", sched.Name)
	}

	values := make(map[string]string, len(sched.Args))
	for _, a := range sched.Args {
		values[a.Name] = a.Value
	}
	args, err := def.ValidateArgs(values)
	if err != nil {
		return 0, fmt.Errorf("stored args no longer valid: %w", err)
	}

	if !def.Inline && len(sched.Recipients) == 0 {
		return 0, fmt.Errorf("schedule has no recipients for a non-inline job")
	}

	host := def.Host
	if host == "" {
		host = s.config.Host
	}
	timeout := def.Timeout
	if timeout == 0 {
		timeout = s.config.DefaultTimeout
	}

	job := domain.Job{
		Name:          sched.Name,
		Command:       def.Command,
		Args:          args,
		Submitter:     domain.User{Name: "scheduler", Email: s.config.SubmitterEmail},
		Recipients:    sched.Recipients,
		SubmittedAt:   now,
		Status:        domain.StatusQueued,
		Host:          host,
		Class:         def.Class,
		NeedsApproval: def.NeedsApproval,
		Timeout:       timeout,
	}
	return s.store.CreateJob(ctx, job)
}
