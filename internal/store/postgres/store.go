// Package postgres persists schedules, executions, quotas and the report
// cache behind the narrow store interfaces each component declares.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/justoai/relato/internal/api"
	"github.com/justoai/relato/internal/cache"
	"github.com/justoai/relato/internal/dispatcher"
	"github.com/justoai/relato/internal/domain"
	"github.com/justoai/relato/internal/planner"
	"github.com/justoai/relato/internal/quota"
	"github.com/justoai/relato/internal/reconciler"
)

// ErrAlreadyTerminal is returned when a terminal execution row rejects a
// state transition.
var ErrAlreadyTerminal = errors.New("execution already in terminal state")

// Store implements the persistence interfaces of the planner, dispatcher,
// reconciler, quota guard, cache and admin API over a single PostgreSQL
// database.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a PostgreSQL store with the given database connection.
// opTimeout bounds every statement; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// PingContext reports database connectivity. Used by the health endpoint.
func (s *Store) PingContext(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// --- schedules ---

func (s *Store) CreateSchedule(ctx context.Context, sched domain.ScheduleDefinition) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	formats := make([]string, len(sched.OutputFormats))
	for i, f := range sched.OutputFormats {
		formats[i] = string(f)
	}
	_, err := s.db.ExecContext(ctx, queryInsertSchedule,
		sched.ID,
		sched.WorkspaceID,
		sched.Name,
		string(sched.Frequency),
		string(sched.ReportType),
		string(sched.AudienceType),
		pq.Array(sched.ProcessIDs),
		pq.Array(formats),
		pq.Array(sched.Recipients),
		sched.Enabled,
		sched.LastRun,
		sched.NextRun,
		sched.MonthlyQuotaUsed,
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	return err
}

// GetDueSchedules returns enabled schedules with nextRun before to,
// which covers both the [from, to) window and overdue schedules.
func (s *Store) GetDueSchedules(ctx context.Context, from, to time.Time) ([]domain.ScheduleDefinition, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryGetDueSchedules, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSchedules(rows)
}

func (s *Store) GetScheduleByID(ctx context.Context, id uuid.UUID) (domain.ScheduleDefinition, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, queryGetScheduleByID, id)
	return scanSchedule(row)
}

func (s *Store) ListSchedules(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]domain.ScheduleDefinition, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryListSchedules, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSchedules(rows)
}

func (s *Store) MarkScheduleRun(ctx context.Context, scheduleID uuid.UUID, lastRun, nextRun time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, queryMarkScheduleRun, scheduleID, lastRun, nextRun)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) SetScheduleEnabled(ctx context.Context, scheduleID uuid.UUID, enabled bool, updatedAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, querySetScheduleEnabled, scheduleID, enabled, updatedAt)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// --- executions ---

// InsertExecution inserts a new execution record. Quota rejections arrive
// here already FAILED, so completed_at and error are written on insert.
// Returns planner.ErrDuplicateExecution when (schedule_id, scheduled_for)
// already exists.
func (s *Store) InsertExecution(ctx context.Context, exec domain.ScheduledExecution) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryInsertExecution,
		exec.ID,
		exec.WorkspaceID,
		nullUUID(exec.ScheduleID),
		string(exec.Status),
		exec.ScheduledFor,
		exec.QuotaConsumed,
		exec.RetryCount,
		nullTime(exec.CompletedAt),
		nullString(exec.Error),
		exec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return planner.ErrDuplicateExecution
		}
		return err
	}
	return nil
}

func (s *Store) GetDueExecutions(ctx context.Context, from, to time.Time, limit int) ([]domain.ScheduledExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryGetDueExecutions, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func (s *Store) ListExecutions(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.ScheduledExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryListExecutions, scheduleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// ClaimExecution transitions AGENDADO to RUNNING atomically.
// The status guard in the WHERE clause serializes competing dispatchers;
// zero rows affected means another instance won the claim.
func (s *Store) ClaimExecution(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, queryClaimExecution, id, startedAt)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return dispatcher.ErrClaimLost
	}
	return nil
}

func (s *Store) CompleteExecution(ctx context.Context, exec domain.ScheduledExecution) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, queryCompleteExecution,
		exec.ID,
		exec.CompletedAt,
		exec.Duration.Milliseconds(),
		exec.Result,
		pq.Array(exec.FileURLs),
		exec.CacheHit,
		exec.CacheKey,
	)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, result, exec.ID)
}

func (s *Store) FailExecution(ctx context.Context, id uuid.UUID, completedAt time.Time, cause string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, queryFailExecution, id, completedAt, cause)
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, result, id)
}

func (s *Store) GetStaleRunning(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryGetStaleRunning, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// GetOverdueAgendado returns AGENDADO executions whose slot passed before
// olderThan. Rows this old fell out of the dispatch tolerance and will never
// be picked up.
func (s *Store) GetOverdueAgendado(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryGetOverdueAgendado, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// requireTransition distinguishes a missing row from a terminal-state
// rejection when a guarded execution UPDATE touched nothing.
func (s *Store) requireTransition(ctx context.Context, result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM scheduled_executions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

// --- quota ledger ---

func (s *Store) Remaining(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var remaining int
	err := s.db.QueryRowContext(ctx, queryQuotaRemaining, workspaceID).Scan(&remaining)
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Consume charges units against the workspace budget. The budget guard in
// the WHERE clause makes the check-and-charge a single atomic statement;
// losing it returns quota.ErrQuotaExceeded.
func (s *Store) Consume(ctx context.Context, workspaceID uuid.UUID, units int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, queryQuotaConsume, workspaceID, units)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workspace_quotas WHERE workspace_id = $1)`, workspaceID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return sql.ErrNoRows
		}
		return quota.ErrQuotaExceeded
	}
	return nil
}

func (s *Store) Refund(ctx context.Context, workspaceID uuid.UUID, units int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, queryQuotaRefund, workspaceID, units)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// --- report cache ---

func (s *Store) Get(ctx context.Context, key string) (domain.CacheEntry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var (
		entry      domain.CacheEntry
		reportType string
		audience   string
		processIDs pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, queryCacheGet, key).Scan(
		&entry.CacheKey,
		&entry.WorkspaceID,
		&reportType,
		&audience,
		&processIDs,
		&entry.LastMovementTimestamp,
		&entry.CachedData,
		&entry.CreatedAt,
		&entry.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return domain.CacheEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return domain.CacheEntry{}, err
	}
	entry.ReportType = domain.ReportType(reportType)
	entry.AudienceType = domain.AudienceType(audience)
	entry.ProcessIDs = processIDs
	return entry, nil
}

func (s *Store) Put(ctx context.Context, entry domain.CacheEntry) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, queryCachePut,
		entry.CacheKey,
		entry.WorkspaceID,
		string(entry.ReportType),
		string(entry.AudienceType),
		pq.Array(entry.ProcessIDs),
		entry.LastMovementTimestamp,
		entry.CachedData,
		entry.CreatedAt,
		entry.ExpiresAt,
	)
	return err
}

// DeleteStale removes entries referencing any of processIDs whose
// lastMovementTimestamp predates before. The && overlap operator matches
// entries sharing at least one process with the batch.
func (s *Store) DeleteStale(ctx context.Context, processIDs []string, before time.Time) (int, []string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryCacheDeleteStale, pq.Array(processIDs), before)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	return collectDeleted(rows)
}

func (s *Store) DeleteWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, []string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, queryCacheDeleteWorkspace, workspaceID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	return collectDeleted(rows)
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return s.deleteCount(ctx, queryCacheDeleteExpired, now)
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteCount(ctx, queryCacheDeleteOlderThan, cutoff)
}

func (s *Store) deleteCount(ctx context.Context, query string, cutoff time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rowsAffected), nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (domain.ScheduleDefinition, error) {
	var (
		sched      domain.ScheduleDefinition
		frequency  string
		reportType string
		audience   string
		processIDs pq.StringArray
		formats    pq.StringArray
		recipients pq.StringArray
		lastRun    sql.NullTime
		nextRun    sql.NullTime
	)
	err := row.Scan(
		&sched.ID,
		&sched.WorkspaceID,
		&sched.Name,
		&frequency,
		&reportType,
		&audience,
		&processIDs,
		&formats,
		&recipients,
		&sched.Enabled,
		&lastRun,
		&nextRun,
		&sched.MonthlyQuotaUsed,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return domain.ScheduleDefinition{}, err
	}

	sched.Frequency = domain.Frequency(frequency)
	sched.ReportType = domain.ReportType(reportType)
	sched.AudienceType = domain.AudienceType(audience)
	sched.ProcessIDs = processIDs
	sched.Recipients = recipients
	sched.OutputFormats = make([]domain.Format, len(formats))
	for i, f := range formats {
		sched.OutputFormats[i] = domain.Format(f)
	}
	if lastRun.Valid {
		sched.LastRun = &lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRun = &nextRun.Time
	}
	return sched, nil
}

func scanSchedules(rows *sql.Rows) ([]domain.ScheduleDefinition, error) {
	var result []domain.ScheduleDefinition
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanExecution(row rowScanner) (domain.ScheduledExecution, error) {
	var (
		exec        domain.ScheduledExecution
		scheduleID  uuid.NullUUID
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		durationMs  int64
		execError   sql.NullString
		execResult  sql.NullString
		fileURLs    pq.StringArray
		cacheKey    sql.NullString
	)
	err := row.Scan(
		&exec.ID,
		&exec.WorkspaceID,
		&scheduleID,
		&status,
		&exec.ScheduledFor,
		&exec.QuotaConsumed,
		&startedAt,
		&completedAt,
		&durationMs,
		&exec.RetryCount,
		&execError,
		&execResult,
		&fileURLs,
		&exec.CacheHit,
		&cacheKey,
		&exec.CreatedAt,
	)
	if err != nil {
		return domain.ScheduledExecution{}, err
	}

	exec.Status = domain.ExecutionStatus(status)
	exec.Duration = time.Duration(durationMs) * time.Millisecond
	exec.Error = execError.String
	exec.Result = execResult.String
	exec.FileURLs = fileURLs
	exec.CacheKey = cacheKey.String
	if scheduleID.Valid {
		id := scheduleID.UUID
		exec.ScheduleID = &id
	}
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return exec, nil
}

func scanExecutions(rows *sql.Rows) ([]domain.ScheduledExecution, error) {
	var result []domain.ScheduledExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectDeleted(rows *sql.Rows) (int, []string, error) {
	var (
		deleted  int
		seen     = make(map[string]struct{})
		affected []string
	)
	for rows.Next() {
		var processIDs pq.StringArray
		if err := rows.Scan(&processIDs); err != nil {
			return 0, nil, err
		}
		deleted++
		for _, id := range processIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			affected = append(affected, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return deleted, affected, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// Compile-time interface assertions
var (
	_ planner.Store     = (*Store)(nil)
	_ dispatcher.Store  = (*Store)(nil)
	_ reconciler.Store  = (*Store)(nil)
	_ quota.Ledger      = (*Store)(nil)
	_ cache.Store       = (*Store)(nil)
	_ api.Store         = (*Store)(nil)
	_ api.HealthChecker = (*Store)(nil)
)
