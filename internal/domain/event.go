package domain

import "time"

// JobEvent is emitted by the runner when a job reaches a terminal state.
// Consumers refetch the job record; the event carries only identity.
type JobEvent struct {
	JobID      int64
	Status     JobStatus
	OccurredAt time.Time
}
