// Package store defines the errors and filter types shared by every
// consumer of the job store. Implementations live in subpackages.
package store

import (
	"errors"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

var (
	// ErrNotFound is returned when no record matches the requested id
	// or session token.
	ErrNotFound = errors.New("record not found")

	// ErrIllegalTransition is returned when a status update would
	// violate the job state machine, including any mutation of a
	// terminal record.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrNoneAvailable is returned by ClaimNext when no eligible
	// queued job exists for the host.
	ErrNoneAvailable = errors.New("no claimable job")
)

// ListFilter selects jobs for listing. Zero values mean "no constraint".
// Results are ordered by submitted_at ascending.
type ListFilter struct {
	Statuses  []domain.JobStatus
	Submitter string
	Name      string
	Host      string
	Since     time.Time

	// StalledBefore selects non-terminal jobs submitted before the
	// given instant, for the stuck-job console.
	StalledBefore time.Time
}
