// Package channel carries terminal-state job events from the runner to
// the notifier over a buffered in-process channel.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

// ErrBufferFull is returned when an emit cannot be buffered within the
// emit timeout. The reaper-independent notifier catch-up is the job
// store itself: events are advisory, the terminal row is authoritative.
var ErrBufferFull = errors.New("event buffer full")

// MetricsSink records bus saturation. Implementations must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout bounds how long Emit blocks on a full buffer.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) { b.metrics = sink }
}

type EventBus struct {
	ch          chan domain.JobEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.JobEvent, buffer),
		emitTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit queues an event, blocking up to the emit timeout.
func (b *EventBus) Emit(ctx context.Context, event domain.JobEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.JobEvent {
	return b.ch
}
