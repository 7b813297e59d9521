package postgres

const queryInsertSchedule = `
INSERT INTO report_schedules (
    id, workspace_id, name, frequency, report_type, audience_type,
    process_ids, output_formats, recipients, enabled,
    last_run, next_run, monthly_quota_used, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

const scheduleColumns = `
    id, workspace_id, name, frequency, report_type, audience_type,
    process_ids, output_formats, recipients, enabled,
    last_run, next_run, monthly_quota_used, created_at, updated_at
`

const queryGetDueSchedules = `
SELECT` + scheduleColumns + `
FROM report_schedules
WHERE enabled = true
  AND next_run IS NOT NULL
  AND next_run < $1
ORDER BY next_run ASC
`

const queryGetScheduleByID = `
SELECT` + scheduleColumns + `
FROM report_schedules
WHERE id = $1
`

const queryListSchedules = `
SELECT` + scheduleColumns + `
FROM report_schedules
WHERE workspace_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryMarkScheduleRun = `
UPDATE report_schedules
SET last_run = $2,
    next_run = $3,
    monthly_quota_used = monthly_quota_used + 1,
    updated_at = $2
WHERE id = $1
`

const querySetScheduleEnabled = `
UPDATE report_schedules
SET enabled = $2, updated_at = $3
WHERE id = $1
`

const queryInsertExecution = `
INSERT INTO scheduled_executions (
    id, workspace_id, schedule_id, status, scheduled_for,
    quota_consumed, retry_count, completed_at, error, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const executionColumns = `
    id, workspace_id, schedule_id, status, scheduled_for,
    quota_consumed, started_at, completed_at, duration_ms,
    retry_count, error, result, file_urls, cache_hit, cache_key, created_at
`

const queryGetDueExecutions = `
SELECT` + executionColumns + `
FROM scheduled_executions
WHERE status = 'agendado'
  AND scheduled_for BETWEEN $1 AND $2
ORDER BY scheduled_for ASC
LIMIT $3
`

const queryListExecutions = `
SELECT` + executionColumns + `
FROM scheduled_executions
WHERE schedule_id = $1
ORDER BY scheduled_for DESC
LIMIT $2 OFFSET $3
`

// Atomic claim: the status guard in the WHERE clause loses the race to a
// competing dispatcher instead of double-running the report.
const queryClaimExecution = `
UPDATE scheduled_executions
SET status = 'running', started_at = $2
WHERE id = $1
  AND status = 'agendado'
`

const queryCompleteExecution = `
UPDATE scheduled_executions
SET status = 'completed',
    completed_at = $2,
    duration_ms = $3,
    result = $4,
    file_urls = $5,
    cache_hit = $6,
    cache_key = $7
WHERE id = $1
  AND status NOT IN ('completed', 'failed')
`

const queryFailExecution = `
UPDATE scheduled_executions
SET status = 'failed',
    completed_at = $2,
    error = $3,
    retry_count = retry_count + 1
WHERE id = $1
  AND status NOT IN ('completed', 'failed')
`

const queryGetStaleRunning = `
SELECT` + executionColumns + `
FROM scheduled_executions
WHERE status = 'running'
  AND started_at < $1
ORDER BY started_at ASC
LIMIT $2
`

const queryGetOverdueAgendado = `
SELECT` + executionColumns + `
FROM scheduled_executions
WHERE status = 'agendado'
  AND scheduled_for < $1
ORDER BY scheduled_for ASC
LIMIT $2
`

const queryQuotaRemaining = `
SELECT quota_limit - quota_used
FROM workspace_quotas
WHERE workspace_id = $1
`

// Atomic charge: the budget guard in the WHERE clause rejects concurrent
// over-consumption without a transaction.
const queryQuotaConsume = `
UPDATE workspace_quotas
SET quota_used = quota_used + $2
WHERE workspace_id = $1
  AND quota_used + $2 <= quota_limit
`

const queryQuotaRefund = `
UPDATE workspace_quotas
SET quota_used = GREATEST(quota_used - $2, 0)
WHERE workspace_id = $1
`

const queryCacheGet = `
SELECT cache_key, workspace_id, report_type, audience_type, process_ids,
       last_movement_timestamp, cached_data, created_at, expires_at
FROM report_cache
WHERE cache_key = $1
`

const queryCachePut = `
INSERT INTO report_cache (
    cache_key, workspace_id, report_type, audience_type, process_ids,
    last_movement_timestamp, cached_data, created_at, expires_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (cache_key) DO UPDATE SET
    last_movement_timestamp = EXCLUDED.last_movement_timestamp,
    cached_data = EXCLUDED.cached_data,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`

const queryCacheDeleteStale = `
DELETE FROM report_cache
WHERE process_ids && $1::text[]
  AND last_movement_timestamp < $2
RETURNING process_ids
`

const queryCacheDeleteWorkspace = `
DELETE FROM report_cache
WHERE workspace_id = $1
RETURNING process_ids
`

const queryCacheDeleteExpired = `
DELETE FROM report_cache
WHERE expires_at <= $1
`

const queryCacheDeleteOlderThan = `
DELETE FROM report_cache
WHERE created_at < $1
`
