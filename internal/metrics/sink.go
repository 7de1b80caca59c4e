package metrics

import "time"

// Sink records operational metrics. All methods are fire-and-forget:
// implementations MUST NOT block or propagate errors. If the metrics
// backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Runner metrics
	JobClaimed()
	JobCompleted(outcome string, duration time.Duration)
	JobsRunningIncr()
	JobsRunningDecr()

	// Notifier metrics
	NotifySent()
	NotifyFailed()
	NotifyRetried()

	// Reaper metrics
	ScanStarted()
	ScanCompleted(duration time.Duration, reaped int, err error)

	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, jobsAdmitted int, err error)

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// Outcome constants for JobCompleted.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
