package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

type mockStore struct {
	mu      sync.Mutex
	running []domain.Job
	listErr error
	updates []update
}

type update struct {
	id      int64
	next    domain.JobStatus
	message string
}

func (m *mockStore) RunningOnHost(ctx context.Context, host string, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, m.listErr
}

func (m *mockStore) UpdateStatus(ctx context.Context, id int64, next domain.JobStatus, message, artifactRef, artifactMIME string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update{id, next, message})
	return nil
}

type mockEmitter struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (m *mockEmitter) Emit(ctx context.Context, event domain.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func runningJob(id int64, pid int, startedAgo, timeout time.Duration) domain.Job {
	started := time.Now().UTC().Add(-startedAgo)
	return domain.Job{
		ID:        id,
		Status:    domain.StatusRunning,
		Host:      "cdr-batch-1",
		PID:       pid,
		StartedAt: &started,
		Timeout:   timeout,
	}
}

func newTestReaper(st *mockStore, emitter *mockEmitter, alive func(int) bool) *Reaper {
	r := New(Config{Host: "cdr-batch-1", Interval: time.Minute, BatchSize: 10}, st, emitter)
	r.processAlive = alive
	return r
}

func TestScan_FailsDeadWorker(t *testing.T) {
	st := &mockStore{running: []domain.Job{runningJob(1, 9999, time.Minute, time.Hour)}}
	emitter := &mockEmitter{}
	r := newTestReaper(st, emitter, func(int) bool { return false })

	r.scan(context.Background())

	if len(st.updates) != 1 {
		t.Fatalf("updates = %+v, want 1", st.updates)
	}
	got := st.updates[0]
	if got.next != domain.StatusFailure || got.message != "worker lost" {
		t.Errorf("update = %+v", got)
	}
	if len(emitter.events) != 1 || emitter.events[0].JobID != 1 {
		t.Errorf("events = %+v", emitter.events)
	}
}

func TestScan_FailsOverdueJob(t *testing.T) {
	st := &mockStore{running: []domain.Job{runningJob(2, 9999, 2*time.Hour, time.Hour)}}
	emitter := &mockEmitter{}
	r := newTestReaper(st, emitter, func(int) bool { return true })

	r.scan(context.Background())

	if len(st.updates) != 1 || st.updates[0].message != "timeout" {
		t.Fatalf("updates = %+v, want one timeout", st.updates)
	}
}

func TestScan_LeavesHealthyJobsAlone(t *testing.T) {
	st := &mockStore{running: []domain.Job{runningJob(3, 9999, time.Minute, time.Hour)}}
	r := newTestReaper(st, &mockEmitter{}, func(int) bool { return true })

	r.scan(context.Background())

	if len(st.updates) != 0 {
		t.Errorf("updates = %+v, want none", st.updates)
	}
}

func TestScan_SkipsApprovalReentries(t *testing.T) {
	job := runningJob(4, 0, 2*time.Hour, time.Hour) // no pid: awaiting publish
	st := &mockStore{running: []domain.Job{job}}
	r := newTestReaper(st, &mockEmitter{}, func(int) bool { return false })

	r.scan(context.Background())

	if len(st.updates) != 0 {
		t.Errorf("updates = %+v, want none", st.updates)
	}
}

func TestScan_ReportsListError(t *testing.T) {
	st := &mockStore{listErr: errors.New("connection refused")}
	r := newTestReaper(st, &mockEmitter{}, func(int) bool { return true })

	r.scan(context.Background())

	if len(st.updates) != 0 {
		t.Errorf("updates = %+v, want none on list error", st.updates)
	}
}
