package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationAttempt records one delivery attempt of a terminal-state
// message to the job's recipient list.
type NotificationAttempt struct {
	ID      uuid.UUID
	JobID   int64
	Attempt int

	Error string // empty on success

	StartedAt  time.Time
	FinishedAt time.Time
}
