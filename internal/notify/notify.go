// Package notify delivers completion email for terminal jobs. It
// consumes job events from the bus, refetches the authoritative record,
// and retries delivery with backoff behind a circuit breaker. Delivery
// failure is logged and recorded but never changes job state.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

type Store interface {
	GetJob(ctx context.Context, id int64) (domain.Job, error)
	InsertNotificationAttempt(ctx context.Context, attempt domain.NotificationAttempt) error
}

// Sender delivers one message to a set of recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Breaker gates delivery attempts per relay. Allow returns an error
// while the circuit is open.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// AnalyticsSink records completed-job outcomes. Failures are logged,
// never propagated.
type AnalyticsSink interface {
	RecordOutcome(ctx context.Context, name string, status domain.JobStatus) error
}

// MetricsSink records notifier metrics. Non-blocking.
type MetricsSink interface {
	NotifySent()
	NotifyFailed()
	NotifyRetried()
}

// defaultBackoff is the wait before each attempt. The first attempt is
// immediate.
var defaultBackoff = []time.Duration{0, 30 * time.Second, 2 * time.Minute, 10 * time.Minute}

type Config struct {
	// RelayKey identifies the mail relay for circuit breaking,
	// normally its address.
	RelayKey string

	MaxAttempts  int
	DrainTimeout time.Duration
}

type Notifier struct {
	config    Config
	events    <-chan domain.JobEvent
	store     Store
	sender    Sender
	breaker   Breaker
	renderer  *Renderer
	analytics AnalyticsSink
	metrics   MetricsSink
	backoff   []time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(config Config, events <-chan domain.JobEvent, st Store, sender Sender, breaker Breaker, renderer *Renderer) *Notifier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = len(defaultBackoff)
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	return &Notifier{
		config:   config,
		events:   events,
		store:    st,
		sender:   sender,
		breaker:  breaker,
		renderer: renderer,
		backoff:  defaultBackoff,
		sleep:    sleepCtx,
	}
}

// WithAnalytics attaches a completion analytics sink.
func (n *Notifier) WithAnalytics(sink AnalyticsSink) *Notifier {
	n.analytics = sink
	return n
}

// WithMetrics attaches a metrics sink.
func (n *Notifier) WithMetrics(sink MetricsSink) *Notifier {
	n.metrics = sink
	return n
}

// Run consumes events until ctx is cancelled, then drains whatever is
// still buffered within the drain timeout.
func (n *Notifier) Run(ctx context.Context) {
	log.Println("notify: started")
	for {
		select {
		case <-ctx.Done():
			n.drain()
			log.Println("notify: stopped")
			return
		case event, ok := <-n.events:
			if !ok {
				log.Println("notify: event channel closed")
				return
			}
			n.handle(ctx, event)
		}
	}
}

// drain processes buffered events after shutdown began so completions
// that already happened still produce mail.
func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.DrainTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			log.Println("notify: drain timeout, remaining events dropped")
			return
		case event, ok := <-n.events:
			if !ok {
				return
			}
			n.handle(ctx, event)
		default:
			return
		}
	}
}

func (n *Notifier) handle(ctx context.Context, event domain.JobEvent) {
	job, err := n.store.GetJob(ctx, event.JobID)
	if err != nil {
		log.Printf("notify: job=%d fetch failed: %v", event.JobID, err)
		return
	}
	if !job.Status.IsTerminal() {
		// The event raced a later read; a terminal event for this job
		// will follow.
		return
	}

	n.recordOutcome(ctx, job)

	if len(job.Recipients) == 0 {
		return
	}

	subject, body := n.renderer.Render(job)
	n.deliver(ctx, job, subject, body)
}

// deliver retries until the message is sent or MaxAttempts real sends
// have failed. Passes the breaker refuses are recorded but do not
// consume the send budget, so an open circuit that later closes still
// leaves every configured attempt available; a separate refusal bound
// keeps a stuck-open circuit from looping forever.
func (n *Notifier) deliver(ctx context.Context, job domain.Job, subject, body string) {
	sends, refusals := 0, 0
	for pass := 0; sends < n.config.MaxAttempts; pass++ {
		wait := n.backoff[len(n.backoff)-1]
		if pass < len(n.backoff) {
			wait = n.backoff[pass]
		}
		if wait > 0 {
			if n.metrics != nil {
				n.metrics.NotifyRetried()
			}
			if err := n.sleep(ctx, wait); err != nil {
				log.Printf("notify: job=%d delivery abandoned: %v", job.ID, err)
				return
			}
		}

		if err := n.breaker.Allow(n.config.RelayKey); err != nil {
			refusals++
			now := time.Now().UTC()
			n.recordAttempt(ctx, job.ID, sends+refusals, err.Error(), now, now)
			if refusals >= n.config.MaxAttempts {
				if n.metrics != nil {
					n.metrics.NotifyFailed()
				}
				log.Printf("notify: job=%d gave up, relay circuit open", job.ID)
				return
			}
			continue
		}

		sends++
		started := time.Now().UTC()
		err := n.sender.Send(ctx, job.Recipients, subject, body)
		finished := time.Now().UTC()

		if err == nil {
			n.breaker.RecordSuccess(n.config.RelayKey)
			n.recordAttempt(ctx, job.ID, sends+refusals, "", started, finished)
			if n.metrics != nil {
				n.metrics.NotifySent()
			}
			log.Printf("notify: job=%d mail sent to %d recipients", job.ID, len(job.Recipients))
			return
		}

		n.breaker.RecordFailure(n.config.RelayKey)
		n.recordAttempt(ctx, job.ID, sends+refusals, err.Error(), started, finished)
		log.Printf("notify: job=%d attempt %d failed: %v", job.ID, sends+refusals, err)
	}

	if n.metrics != nil {
		n.metrics.NotifyFailed()
	}
	log.Printf("notify: job=%d gave up after %d attempts", job.ID, n.config.MaxAttempts)
}

func (n *Notifier) recordAttempt(ctx context.Context, jobID int64, attempt int, errText string, started, finished time.Time) {
	record := domain.NotificationAttempt{
		ID:         uuid.New(),
		JobID:      jobID,
		Attempt:    attempt,
		Error:      errText,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err := n.store.InsertNotificationAttempt(ctx, record); err != nil {
		log.Printf("notify: job=%d attempt record failed: %v", jobID, err)
	}
}

func (n *Notifier) recordOutcome(ctx context.Context, job domain.Job) {
	if n.analytics == nil {
		return
	}
	if err := n.analytics.RecordOutcome(ctx, job.Name, job.Status); err != nil {
		log.Printf("notify: job=%d analytics record failed: %v", job.ID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
