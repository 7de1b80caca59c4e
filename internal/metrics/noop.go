package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobClaimed()                                                {}
func (n *NoopSink) JobCompleted(outcome string, duration time.Duration)        {}
func (n *NoopSink) JobsRunningIncr()                                           {}
func (n *NoopSink) JobsRunningDecr()                                           {}
func (n *NoopSink) NotifySent()                                                {}
func (n *NoopSink) NotifyFailed()                                              {}
func (n *NoopSink) NotifyRetried()                                             {}
func (n *NoopSink) ScanStarted()                                               {}
func (n *NoopSink) ScanCompleted(duration time.Duration, reaped int, e error)  {}
func (n *NoopSink) TickStarted()                                               {}
func (n *NoopSink) TickCompleted(duration time.Duration, jobs int, err error)  {}
func (n *NoopSink) BufferSizeUpdate(size int)                                  {}
func (n *NoopSink) BufferCapacitySet(capacity int)                             {}
func (n *NoopSink) EmitError()                                                 {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                          {}
func (n *NoopSink) LeaderLost(reason string)                                   {}
