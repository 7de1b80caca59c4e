package domain

import "time"

type JobStatus string

const (
	StatusQueued          JobStatus = "queued"
	StatusRunning         JobStatus = "running"
	StatusWaitingApproval JobStatus = "waiting_approval"
	StatusSuccess         JobStatus = "success"
	StatusFailure         JobStatus = "failure"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// CanTransition reports whether the state machine permits from -> to.
// Terminal states are sticky.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning || to == StatusFailure
	case StatusRunning:
		return to == StatusSuccess || to == StatusFailure || to == StatusWaitingApproval
	case StatusWaitingApproval:
		return to == StatusRunning || to == StatusFailure
	}
	return false
}

// Job is a single admitted request to run a named command asynchronously.
type Job struct {
	ID      int64
	Name    string
	Command string
	Args    []Arg

	Submitter  User
	Recipients []string

	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time

	Status        JobStatus
	StatusMessage string

	// ArtifactRef is set only when Status is success.
	ArtifactRef  string
	ArtifactMIME string

	Host  string
	Class string
	PID   int

	// NeedsApproval pauses the job in waiting_approval after its
	// command succeeds; an operator publishes or rejects the result.
	NeedsApproval bool

	Timeout time.Duration
}

// Elapsed returns the wall time between admission and completion, or
// between admission and now for jobs that are still active.
func (j Job) Elapsed(now time.Time) time.Duration {
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(j.SubmittedAt)
	}
	return now.Sub(j.SubmittedAt)
}
