package channel

import (
	"context"
	"testing"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

func newTestEvent(id int64) domain.JobEvent {
	return domain.JobEvent{
		JobID:      id,
		Status:     domain.StatusSuccess,
		OccurredAt: time.Now().UTC(),
	}
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	bus := NewEventBus(10)
	event := newTestEvent(42)

	if err := bus.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.JobID != 42 {
			t.Errorf("JobID = %d, want 42", got.JobID)
		}
		if got.Status != domain.StatusSuccess {
			t.Errorf("Status = %s", got.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event on channel")
	}
}

func TestEventBus_BufferFull(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(50*time.Millisecond))
	ctx := context.Background()

	if err := bus.Emit(ctx, newTestEvent(1)); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	if err := bus.Emit(ctx, newTestEvent(2)); err != ErrBufferFull {
		t.Errorf("err = %v, want ErrBufferFull", err)
	}
}

func TestEventBus_EmitCancelled(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(5*time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	if err := bus.Emit(ctx, newTestEvent(1)); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	cancel()
	if err := bus.Emit(ctx, newTestEvent(2)); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
