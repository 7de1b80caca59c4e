package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store"
)

type mockStore struct {
	mu       sync.Mutex
	jobs     map[int64]domain.Job
	attempts []domain.NotificationAttempt
}

func newMockStore(jobs ...domain.Job) *mockStore {
	m := &mockStore{jobs: make(map[int64]domain.Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *mockStore) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (m *mockStore) InsertNotificationAttempt(ctx context.Context, attempt domain.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	return nil
}

type mockSender struct {
	mu    sync.Mutex
	errs  []error
	calls int
	to    [][]string
	last  struct{ subject, body string }
}

func (m *mockSender) Send(ctx context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.to = append(m.to, to)
	m.last.subject = subject
	m.last.body = body
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	return nil
}

type openBreaker struct{ allowed bool }

func (b *openBreaker) Allow(string) error {
	if b.allowed {
		return nil
	}
	return errors.New("circuit breaker is open")
}
func (b *openBreaker) RecordSuccess(string) {}
func (b *openBreaker) RecordFailure(string) {}

func terminalJob(id int64, status domain.JobStatus) domain.Job {
	finished := time.Now().UTC()
	started := finished.Add(-3 * time.Minute)
	submitted := started.Add(-time.Minute)
	return domain.Job{
		ID:            id,
		Name:          "url-check",
		Status:        status,
		StatusMessage: "completed",
		Recipients:    []string{"alice@cancer.gov"},
		SubmittedAt:   submitted,
		StartedAt:     &started,
		FinishedAt:    &finished,
		ArtifactRef:   "/var/cdr/artifacts/1/output",
		ArtifactMIME:  "text/html; charset=utf-8",
	}
}

func newTestNotifier(st *mockStore, sender Sender, breaker Breaker) *Notifier {
	events := make(chan domain.JobEvent)
	n := New(Config{RelayKey: "relay", MaxAttempts: 3, DrainTimeout: time.Second},
		events, st, sender, breaker, NewRenderer("https://cdr.cancer.gov/jobs"))
	n.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return n
}

func TestHandle_SendsCompletionMail(t *testing.T) {
	job := terminalJob(1, domain.StatusSuccess)
	st := newMockStore(job)
	sender := &mockSender{}
	n := newTestNotifier(st, sender, &openBreaker{allowed: true})

	n.handle(context.Background(), domain.JobEvent{JobID: 1, Status: domain.StatusSuccess})

	if sender.calls != 1 {
		t.Fatalf("sends = %d, want 1", sender.calls)
	}
	if got := sender.to[0]; len(got) != 1 || got[0] != "alice@cancer.gov" {
		t.Errorf("to = %v", got)
	}
	if !strings.Contains(sender.last.subject, "url-check") {
		t.Errorf("subject = %q", sender.last.subject)
	}
	if !strings.Contains(sender.last.body, "/status?id=1") {
		t.Errorf("body missing status link:\n%s", sender.last.body)
	}
	if !strings.Contains(sender.last.body, "/artifact?id=1") {
		t.Errorf("body missing artifact link:\n%s", sender.last.body)
	}
	if len(st.attempts) != 1 || st.attempts[0].Error != "" {
		t.Errorf("attempts = %+v", st.attempts)
	}
}

func TestHandle_FailureMailHasNoArtifactLink(t *testing.T) {
	job := terminalJob(2, domain.StatusFailure)
	job.StatusMessage = "timeout"
	st := newMockStore(job)
	sender := &mockSender{}
	n := newTestNotifier(st, sender, &openBreaker{allowed: true})

	n.handle(context.Background(), domain.JobEvent{JobID: 2, Status: domain.StatusFailure})

	if sender.calls != 1 {
		t.Fatalf("sends = %d, want 1", sender.calls)
	}
	if strings.Contains(sender.last.body, "/artifact?") {
		t.Errorf("failure mail must not link an artifact:\n%s", sender.last.body)
	}
	if !strings.Contains(sender.last.body, "timeout") {
		t.Errorf("body missing failure detail:\n%s", sender.last.body)
	}
}

func TestHandle_RetriesThenSucceeds(t *testing.T) {
	st := newMockStore(terminalJob(3, domain.StatusSuccess))
	sender := &mockSender{errs: []error{errors.New("451 try later")}}
	n := newTestNotifier(st, sender, &openBreaker{allowed: true})

	n.handle(context.Background(), domain.JobEvent{JobID: 3, Status: domain.StatusSuccess})

	if sender.calls != 2 {
		t.Fatalf("sends = %d, want 2", sender.calls)
	}
	if len(st.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(st.attempts))
	}
	if st.attempts[0].Error == "" || st.attempts[1].Error != "" {
		t.Errorf("attempts = %+v", st.attempts)
	}
}

func TestHandle_GivesUpAfterMaxAttempts(t *testing.T) {
	st := newMockStore(terminalJob(4, domain.StatusSuccess))
	relay := errors.New("connection refused")
	sender := &mockSender{errs: []error{relay, relay, relay}}
	n := newTestNotifier(st, sender, &openBreaker{allowed: true})

	n.handle(context.Background(), domain.JobEvent{JobID: 4, Status: domain.StatusSuccess})

	if sender.calls != 3 {
		t.Fatalf("sends = %d, want 3", sender.calls)
	}
	if len(st.attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(st.attempts))
	}
}

func TestHandle_OpenBreakerSkipsSend(t *testing.T) {
	st := newMockStore(terminalJob(5, domain.StatusSuccess))
	sender := &mockSender{}
	n := newTestNotifier(st, sender, &openBreaker{allowed: false})

	n.handle(context.Background(), domain.JobEvent{JobID: 5, Status: domain.StatusSuccess})

	if sender.calls != 0 {
		t.Fatalf("sends = %d, want 0 while circuit is open", sender.calls)
	}
	if len(st.attempts) != 3 {
		t.Fatalf("attempts = %d, want the refusal bound to stop the loop", len(st.attempts))
	}
	for _, a := range st.attempts {
		if !strings.Contains(a.Error, "circuit breaker is open") {
			t.Errorf("attempt = %+v", a)
		}
	}
}

type recoveringBreaker struct{ refusals int }

func (b *recoveringBreaker) Allow(string) error {
	if b.refusals > 0 {
		b.refusals--
		return errors.New("circuit breaker is open")
	}
	return nil
}
func (b *recoveringBreaker) RecordSuccess(string) {}
func (b *recoveringBreaker) RecordFailure(string) {}

func TestHandle_BreakerRecoveryKeepsSendBudget(t *testing.T) {
	st := newMockStore(terminalJob(10, domain.StatusSuccess))
	relay := errors.New("connection refused")
	sender := &mockSender{errs: []error{relay, relay}}
	n := newTestNotifier(st, sender, &recoveringBreaker{refusals: 2})

	n.handle(context.Background(), domain.JobEvent{JobID: 10, Status: domain.StatusSuccess})

	// Two refused passes must not eat into the three configured sends:
	// two relay failures and then the delivery that lands.
	if sender.calls != 3 {
		t.Fatalf("sends = %d, want 3", sender.calls)
	}
	if len(st.attempts) != 5 {
		t.Fatalf("attempts = %d, want 5", len(st.attempts))
	}
	last := st.attempts[len(st.attempts)-1]
	if last.Error != "" || last.Attempt != 5 {
		t.Errorf("final attempt = %+v, want a numbered success", last)
	}
}

func TestHandle_NoRecipientsNoMail(t *testing.T) {
	job := terminalJob(6, domain.StatusSuccess)
	job.Recipients = nil
	st := newMockStore(job)
	sender := &mockSender{}
	n := newTestNotifier(st, sender, &openBreaker{allowed: true})

	n.handle(context.Background(), domain.JobEvent{JobID: 6, Status: domain.StatusSuccess})

	if sender.calls != 0 {
		t.Errorf("sends = %d, want 0 for an inline job", sender.calls)
	}
}

func TestHandle_NonTerminalEventIgnored(t *testing.T) {
	job := terminalJob(7, domain.StatusRunning)
	st := newMockStore(job)
	sender := &mockSender{}
	n := newTestNotifier(st, sender, &openBreaker{allowed: true})

	n.handle(context.Background(), domain.JobEvent{JobID: 7, Status: domain.StatusSuccess})

	if sender.calls != 0 {
		t.Errorf("sends = %d, want 0 for a non-terminal record", sender.calls)
	}
}

type recordingAnalytics struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingAnalytics) RecordOutcome(ctx context.Context, name string, status domain.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, name+":"+string(status))
	return nil
}

func TestHandle_RecordsAnalyticsOutcome(t *testing.T) {
	st := newMockStore(terminalJob(8, domain.StatusFailure))
	sink := &recordingAnalytics{}
	n := newTestNotifier(st, &mockSender{}, &openBreaker{allowed: true}).WithAnalytics(sink)

	n.handle(context.Background(), domain.JobEvent{JobID: 8, Status: domain.StatusFailure})

	if len(sink.outcomes) != 1 || sink.outcomes[0] != "url-check:failure" {
		t.Errorf("outcomes = %v", sink.outcomes)
	}
}

func TestRun_DrainsBufferedEventsOnShutdown(t *testing.T) {
	st := newMockStore(terminalJob(9, domain.StatusSuccess))
	sender := &mockSender{}
	events := make(chan domain.JobEvent, 2)
	n := New(Config{RelayKey: "relay", MaxAttempts: 1, DrainTimeout: time.Second},
		events, st, sender, &openBreaker{allowed: true}, NewRenderer("https://cdr.cancer.gov/jobs"))
	n.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	events <- domain.JobEvent{JobID: 9, Status: domain.StatusSuccess}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not stop")
	}
	if sender.calls != 1 {
		t.Errorf("sends = %d, want the buffered event drained", sender.calls)
	}
}
