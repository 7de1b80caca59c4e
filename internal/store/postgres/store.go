// Package postgres implements the durable job store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store"
)

// Store provides job, session, schedule, and notification persistence.
// Every operation runs under the configured statement timeout.
type Store struct {
	db          *sql.DB
	opTimeout   time.Duration
	classLimits map[string]int
}

// New creates a store over an open database handle.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Store{db: db, opTimeout: opTimeout}
}

// WithClassLimits installs the per-class concurrency bounds recorded on
// newly admitted jobs. Claims read the limit from the job row, so a
// changed limit only affects jobs admitted afterwards.
func (s *Store) WithClassLimits(limits map[string]int) *Store {
	m := make(map[string]int, len(limits))
	for k, v := range limits {
		if v > 0 {
			m[k] = v
		}
	}
	s.classLimits = m
	return s
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// CreateJob persists a new job with status queued and returns the
// allocated id. The record is durable on return.
func (s *Store) CreateJob(ctx context.Context, job domain.Job) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx, queryInsertJob,
		job.Name,
		job.Command,
		domain.EncodeArgs(job.Args),
		job.Submitter.Name,
		job.Submitter.Email,
		strings.Join(job.Recipients, " "),
		job.SubmittedAt,
		job.Host,
		job.Class,
		s.classLimit(job.Class),
		job.NeedsApproval,
		int64(job.Timeout/time.Second),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// classLimit resolves the per-(host, class) concurrency bound recorded
// on the row. Classes default to serial execution.
func (s *Store) classLimit(class string) int {
	if limit, ok := s.classLimits[class]; ok {
		return limit
	}
	return 1
}

// GetJob returns one job by id, or store.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetJob, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.Job{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, ordered by submitted_at
// ascending, paginated by limit and offset.
func (s *Store) ListJobs(ctx context.Context, filter store.ListFilter, limit, offset int) ([]domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := "SELECT " + jobColumns + " FROM batch_job"
	var where []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = arg(string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Submitter != "" {
		where = append(where, "submitter_name = "+arg(filter.Submitter))
	}
	if filter.Name != "" {
		where = append(where, "name = "+arg(filter.Name))
	}
	if filter.Host != "" {
		where = append(where, "host = "+arg(filter.Host))
	}
	if !filter.Since.IsZero() {
		where = append(where, "submitted_at >= "+arg(filter.Since))
	}
	if !filter.StalledBefore.IsZero() {
		where = append(where, "status NOT IN ('success', 'failure')")
		where = append(where, "submitted_at < "+arg(filter.StalledBefore))
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at, id LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// ClaimNext atomically selects the oldest queued job for the host whose
// serialization class has spare capacity and moves it to running,
// recording started_at and the claiming worker's pid. Claims for one
// host are serialized by an advisory transaction lock so two workers
// can never claim the same record or overfill a class.
func (s *Store) ClaimNext(ctx context.Context, host string, pid int) (domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, fmt.Errorf("claim: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryAdvisoryXactLock, "claim:"+host); err != nil {
		return domain.Job{}, fmt.Errorf("claim: advisory lock: %w", err)
	}

	row := tx.QueryRowContext(ctx, queryClaimCandidate, host)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.Job{}, store.ErrNoneAvailable
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("claim: select: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, queryMarkClaimed, job.ID, now, pid); err != nil {
		return domain.Job{}, fmt.Errorf("claim: mark: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, fmt.Errorf("claim: commit: %w", err)
	}

	job.Status = domain.StatusRunning
	job.StartedAt = &now
	job.PID = pid
	return job, nil
}

// UpdateStatus applies one state-machine transition as a single atomic
// UPDATE guarded by the set of legal source states, so readers never
// observe a partially written record and terminal states stay sticky.
// queued -> running is excluded here: that transition belongs to
// ClaimNext, which also stamps started_at and pid.
func (s *Store) UpdateStatus(ctx context.Context, id int64, next domain.JobStatus, message, artifactRef, artifactMIME string) error {
	froms := legalSources(next)
	if len(froms) == 0 {
		return store.ErrIllegalTransition
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	placeholders := make([]string, len(froms))
	args := []any{id, string(next), message}
	for i, f := range froms {
		args = append(args, string(f))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	withArtifact := next == domain.StatusSuccess && artifactRef != ""
	if withArtifact {
		args = append(args, artifactRef, artifactMIME)
	}
	query := updateStatusQuery(placeholders, withArtifact)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if affected == 0 {
		// Either the job does not exist or the transition is illegal.
		// Distinguish by checking whether the row exists.
		var current string
		err := s.db.QueryRowContext(ctx, queryGetJobStatus, id).Scan(&current)
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return store.ErrIllegalTransition
	}
	return nil
}

// updateStatusQuery builds the transition statement. Placeholders run
// $1 id, $2 next status, $3 message, then one per legal source state,
// then artifact ref and mime when withArtifact. started_at is kept in
// lockstep with the lifecycle: cleared when a job parks for approval,
// restamped when an operator resumes it, and backfilled on terminal
// rows that never ran so started/finished pairs always read sanely.
func updateStatusQuery(sourcePlaceholders []string, withArtifact bool) string {
	query := `
UPDATE batch_job
SET status = $2,
    status_message = $3,
    started_at = CASE
        WHEN $2 = 'waiting_approval' THEN NULL
        WHEN $2 = 'running' THEN NOW()
        WHEN $2 IN ('success', 'failure') THEN COALESCE(started_at, NOW())
        ELSE started_at
    END,
    finished_at = CASE WHEN $2 IN ('success', 'failure') THEN NOW() ELSE finished_at END,
    pid = CASE WHEN $2 = 'running' THEN NULL ELSE pid END`
	if withArtifact {
		query += fmt.Sprintf(",\n    artifact_ref = $%d, artifact_mime = $%d",
			len(sourcePlaceholders)+4, len(sourcePlaceholders)+5)
	}
	return query + "\nWHERE id = $1 AND status IN (" + strings.Join(sourcePlaceholders, ", ") + ")"
}

// legalSources returns the states from which the state machine permits
// a transition to next, minus queued -> running (ClaimNext's job).
func legalSources(next domain.JobStatus) []domain.JobStatus {
	all := []domain.JobStatus{
		domain.StatusQueued,
		domain.StatusRunning,
		domain.StatusWaitingApproval,
	}
	var froms []domain.JobStatus
	for _, from := range all {
		if from == domain.StatusQueued && next == domain.StatusRunning {
			continue
		}
		if domain.CanTransition(from, next) {
			froms = append(froms, from)
		}
	}
	return froms
}

// SetProgress overwrites the status message of a running job. It
// reports false when the job is no longer running, which is how a
// worker observes cancellation.
func (s *Store) SetProgress(ctx context.Context, id int64, message string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySetProgress, id, message)
	if err != nil {
		return false, fmt.Errorf("set progress: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set progress: %w", err)
	}
	return affected > 0, nil
}

// RunningOnHost returns the running jobs claimed on the given host,
// oldest first, for the reaper's scan cycle.
func (s *Store) RunningOnHost(ctx context.Context, host string, limit int) ([]domain.Job, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryRunningOnHost, host, limit)
	if err != nil {
		return nil, fmt.Errorf("running on host: %w", err)
	}
	defer rows.Close()

	var result []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("running on host: %w", err)
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// GetSession resolves a live session token to its user, or
// store.ErrNotFound for unknown and expired tokens alike.
func (s *Store) GetSession(ctx context.Context, token string) (domain.User, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var user domain.User
	var capabilities string
	err := s.db.QueryRowContext(ctx, queryGetSession, token, time.Now().UTC()).Scan(
		&user.Name,
		&user.DisplayName,
		&user.Email,
		&capabilities,
	)
	if err == sql.ErrNoRows {
		return domain.User{}, store.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get session: %w", err)
	}
	user.Capabilities = strings.Fields(capabilities)
	return user, nil
}

// InsertNotificationAttempt records one mail delivery attempt.
func (s *Store) InsertNotificationAttempt(ctx context.Context, attempt domain.NotificationAttempt) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertNotificationAttempt,
		attempt.ID,
		attempt.JobID,
		attempt.Attempt,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification attempt: %w", err)
	}
	return nil
}

// EnabledSchedules returns all enabled recurring job schedules.
func (s *Store) EnabledSchedules(ctx context.Context) ([]domain.Schedule, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryEnabledSchedules)
	if err != nil {
		return nil, fmt.Errorf("enabled schedules: %w", err)
	}
	defer rows.Close()

	var result []domain.Schedule
	for rows.Next() {
		var sched domain.Schedule
		var args, recipients string
		var lastFired sql.NullTime
		err := rows.Scan(
			&sched.ID,
			&sched.Name,
			&sched.CronExpression,
			&sched.Timezone,
			&args,
			&recipients,
			&sched.Enabled,
			&lastFired,
			&sched.CreatedAt,
			&sched.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("enabled schedules: %w", err)
		}
		if sched.Args, err = domain.DecodeArgs(args); err != nil {
			return nil, fmt.Errorf("schedule %d args: %w", sched.ID, err)
		}
		sched.Recipients = strings.Fields(recipients)
		if lastFired.Valid {
			t := lastFired.Time
			sched.LastFiredAt = &t
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

// MarkScheduleFired advances a schedule's last-fired watermark. It
// reports false when another instance already fired this slot.
func (s *Store) MarkScheduleFired(ctx context.Context, id int64, firedAt time.Time) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryMarkScheduleFired, id, firedAt)
	if err != nil {
		return false, fmt.Errorf("mark schedule fired: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark schedule fired: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var args, recipients string
	var started, finished sql.NullTime
	var artifactRef, artifactMIME sql.NullString
	var pid sql.NullInt64
	var timeoutSeconds int64
	var classLimit int

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Command,
		&args,
		&job.Submitter.Name,
		&job.Submitter.Email,
		&recipients,
		&job.SubmittedAt,
		&started,
		&finished,
		&job.Status,
		&job.StatusMessage,
		&artifactRef,
		&artifactMIME,
		&job.Host,
		&job.Class,
		&classLimit,
		&pid,
		&job.NeedsApproval,
		&timeoutSeconds,
	)
	if err != nil {
		return domain.Job{}, err
	}

	if job.Args, err = domain.DecodeArgs(args); err != nil {
		return domain.Job{}, err
	}
	job.Recipients = strings.Fields(recipients)
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	job.ArtifactRef = artifactRef.String
	job.ArtifactMIME = artifactMIME.String
	job.PID = int(pid.Int64)
	job.Timeout = time.Duration(timeoutSeconds) * time.Second
	return job, nil
}
