// Package api exposes the admin HTTP surface: schedule management,
// execution history, cache invalidation hooks and health.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/cache"
	"github.com/justoai/relato/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

var (
	errInvalidLimit  = errors.New("limit must be a positive integer")
	errInvalidOffset = errors.New("offset must be a non-negative integer")
)

type Store interface {
	CreateSchedule(ctx context.Context, sched domain.ScheduleDefinition) error
	ListSchedules(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]domain.ScheduleDefinition, error)

	// SetScheduleEnabled flips the enabled flag. Returns sql.ErrNoRows
	// when the schedule does not exist.
	SetScheduleEnabled(ctx context.Context, scheduleID uuid.UUID, enabled bool, updatedAt time.Time) error

	ListExecutions(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.ScheduledExecution, error)
}

// Invalidator is the cache invalidation surface exposed over HTTP.
type Invalidator interface {
	OnMovements(ctx context.Context, movements []domain.Movement) (cache.Result, error)
	PurgeWorkspace(ctx context.Context, workspaceID uuid.UUID) (cache.Result, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store       Store
	invalidator Invalidator
	db          HealthChecker
	redisPing   func(ctx context.Context) error
	log         zerolog.Logger
	clock       func() time.Time
}

func NewHandler(store Store, invalidator Invalidator, log zerolog.Logger) *Handler {
	return &Handler{
		store:       store,
		invalidator: invalidator,
		log:         log.With().Str("component", "api").Logger(),
		clock:       time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithRedisCheck sets the analytics store check for verbose /health responses.
func (h *Handler) WithRedisCheck(ping func(ctx context.Context) error) *Handler {
	h.redisPing = ping
	return h
}

// WithClock overrides the time source. Test hook.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/schedules" && r.Method == http.MethodPost:
		h.createSchedule(w, r)

	case path == "/schedules" && r.Method == http.MethodGet:
		h.listSchedules(w, r)

	case strings.HasSuffix(path, "/executions") && r.Method == http.MethodGet:
		h.listExecutions(w, r)

	case strings.HasSuffix(path, "/enable") && r.Method == http.MethodPost:
		h.setEnabled(w, r, true)

	case strings.HasSuffix(path, "/disable") && r.Method == http.MethodPost:
		h.setEnabled(w, r, false)

	case path == "/cache/invalidate" && r.Method == http.MethodPost:
		h.invalidate(w, r)

	case strings.HasSuffix(path, "/cache/purge") && r.Method == http.MethodPost:
		h.purgeWorkspace(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	if h.redisPing != nil {
		if err := h.redisPing(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Components["redis"] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateSchedule(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	workspaceID, _ := uuid.Parse(req.WorkspaceID)
	formats := make([]domain.Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		formats = append(formats, domain.Format(f))
	}
	if len(formats) == 0 {
		formats = []domain.Format{domain.FormatPDF}
	}

	now := h.clock().UTC()
	// New schedules are due immediately: the next nightly pass picks them
	// up, and MarkScheduleRun advances nextRun by the frequency from there.
	nextRun := now

	sched := domain.ScheduleDefinition{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		Name:          req.Name,
		Frequency:     domain.Frequency(req.Frequency),
		ReportType:    domain.ReportType(req.ReportType),
		AudienceType:  domain.AudienceType(req.Audience),
		ProcessIDs:    req.ProcessIDs,
		OutputFormats: formats,
		Recipients:    req.Recipients,
		Enabled:       true,
		NextRun:       &nextRun,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.CreateSchedule(r.Context(), sched); err != nil {
		h.log.Error().Err(err).Msg("create schedule failed")
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, scheduleResponse(sched))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := uuid.Parse(r.URL.Query().Get("workspace_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workspace_id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedules, err := h.store.ListSchedules(r.Context(), workspaceID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list schedules failed")
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, len(schedules))}
	for i, sched := range schedules {
		resp.Schedules[i] = scheduleResponse(sched)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	// Path shape: /schedules/{id}/executions
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "schedules" || parts[2] != "executions" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	scheduleID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	executions, err := h.store.ListExecutions(r.Context(), scheduleID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list executions failed")
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(executions))}
	for i, exec := range executions {
		resp.Executions[i] = executionResponse(exec)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	// Path shape: /schedules/{id}/enable or /schedules/{id}/disable
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "schedules" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	scheduleID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	if err := h.store.SetScheduleEnabled(r.Context(), scheduleID, enabled, h.clock().UTC()); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		h.log.Error().Err(err).Msg("set schedule enabled failed")
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateInvalidate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	movements := make([]domain.Movement, 0, len(req.Movements))
	for i, m := range req.Movements {
		date, err := time.Parse(time.RFC3339, m.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "movements["+strconv.Itoa(i)+"].date must be RFC 3339")
			return
		}
		movements = append(movements, domain.Movement{ProcessID: m.ProcessID, Date: date})
	}

	result, err := h.invalidator.OnMovements(r.Context(), movements)
	if err != nil {
		h.log.Error().Err(err).Msg("movement invalidation failed")
		writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}

	writeJSON(w, http.StatusOK, InvalidateResponse{
		Invalidated: result.Invalidated,
		ProcessIDs:  result.ProcessIDs,
	})
}

func (h *Handler) purgeWorkspace(w http.ResponseWriter, r *http.Request) {
	// Path shape: /workspaces/{id}/cache/purge
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "workspaces" || parts[2] != "cache" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	workspaceID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workspace id")
		return
	}

	result, err := h.invalidator.PurgeWorkspace(r.Context(), workspaceID)
	if err != nil {
		h.log.Error().Err(err).Msg("workspace purge failed")
		writeError(w, http.StatusInternalServerError, "failed to purge cache")
		return
	}

	writeJSON(w, http.StatusOK, InvalidateResponse{Invalidated: result.Invalidated})
}

func scheduleResponse(sched domain.ScheduleDefinition) ScheduleResponse {
	formats := make([]string, len(sched.OutputFormats))
	for i, f := range sched.OutputFormats {
		formats[i] = string(f)
	}
	return ScheduleResponse{
		ID:          sched.ID.String(),
		WorkspaceID: sched.WorkspaceID.String(),
		Name:        sched.Name,
		Frequency:   string(sched.Frequency),
		ReportType:  string(sched.ReportType),
		Audience:    string(sched.AudienceType),
		ProcessIDs:  sched.ProcessIDs,
		Formats:     formats,
		Recipients:  sched.Recipients,
		Enabled:     sched.Enabled,
		LastRun:     formatTimePtr(sched.LastRun),
		NextRun:     formatTimePtr(sched.NextRun),
		CreatedAt:   formatTime(sched.CreatedAt),
	}
}

func executionResponse(exec domain.ScheduledExecution) ExecutionResponse {
	resp := ExecutionResponse{
		ID:            exec.ID.String(),
		WorkspaceID:   exec.WorkspaceID.String(),
		Status:        string(exec.Status),
		ScheduledFor:  formatTime(exec.ScheduledFor),
		StartedAt:     formatTimePtr(exec.StartedAt),
		CompletedAt:   formatTimePtr(exec.CompletedAt),
		DurationMs:    exec.Duration.Milliseconds(),
		QuotaConsumed: exec.QuotaConsumed,
		CacheHit:      exec.CacheHit,
		Error:         exec.Error,
	}
	if exec.ScheduleID != nil {
		resp.ScheduleID = exec.ScheduleID.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errInvalidLimit
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errInvalidOffset
		}
	}

	return limit, offset, nil
}
