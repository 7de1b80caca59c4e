package postgres

const jobColumns = `
    id, name, command, args, submitter_name, submitter_email,
    recipients, submitted_at, started_at, finished_at,
    status, status_message, artifact_ref, artifact_mime,
    host, class, class_limit, pid, needs_approval, timeout_seconds
`

const queryInsertJob = `
INSERT INTO batch_job (
    name, command, args, submitter_name, submitter_email,
    recipients, submitted_at, status, status_message,
    host, class, class_limit, needs_approval, timeout_seconds
) VALUES ($1, $2, $3, $4, $5, $6, $7, 'queued', '', $8, $9, $10, $11, $12)
RETURNING id
`

const queryGetJob = `
SELECT ` + jobColumns + `
FROM batch_job
WHERE id = $1
`

// Claims are serialized per host by an advisory transaction lock taken
// before this query runs, so the running-count subquery cannot race
// with another claimer on the same host.
const queryClaimCandidate = `
SELECT ` + jobColumns + `
FROM batch_job j
WHERE j.status = 'queued'
  AND j.host = $1
  AND (SELECT COUNT(*) FROM batch_job r
       WHERE r.status = 'running' AND r.host = j.host AND r.class = j.class)
      < j.class_limit
ORDER BY j.submitted_at, j.id
FOR UPDATE SKIP LOCKED
LIMIT 1
`

const queryMarkClaimed = `
UPDATE batch_job
SET status = 'running', started_at = $2, pid = $3, status_message = 'claimed'
WHERE id = $1
`

const queryAdvisoryXactLock = `SELECT pg_advisory_xact_lock(hashtext($1))`

const querySetProgress = `
UPDATE batch_job
SET status_message = $2
WHERE id = $1
  AND status = 'running'
`

const queryGetJobStatus = `
SELECT status FROM batch_job WHERE id = $1
`

const queryRunningOnHost = `
SELECT ` + jobColumns + `
FROM batch_job
WHERE status = 'running'
  AND host = $1
ORDER BY started_at
LIMIT $2
`

const queryGetSession = `
SELECT user_name, display_name, email, capabilities
FROM session
WHERE token = $1
  AND expires_at > $2
`

const queryInsertNotificationAttempt = `
INSERT INTO notification_attempt (id, job_id, attempt, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryEnabledSchedules = `
SELECT id, name, cron_expression, timezone, args, recipients,
       enabled, last_fired_at, created_at, updated_at
FROM job_schedule
WHERE enabled = true
ORDER BY id
`

// The last_fired_at guard makes schedule firing idempotent across
// concurrent leaders during a failover window.
const queryMarkScheduleFired = `
UPDATE job_schedule
SET last_fired_at = $2, updated_at = $2
WHERE id = $1
  AND (last_fired_at IS NULL OR last_fired_at < $2)
`
