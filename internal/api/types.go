package api

import "time"

type CreateScheduleRequest struct {
	WorkspaceID string   `json:"workspace_id"`
	Name        string   `json:"name"`
	Frequency   string   `json:"frequency"`
	ReportType  string   `json:"report_type"`
	Audience    string   `json:"audience"`
	ProcessIDs  []string `json:"process_ids"`
	Formats     []string `json:"output_formats,omitempty"` // default ["pdf"]
	Recipients  []string `json:"recipients"`
}

type ScheduleResponse struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	Name        string   `json:"name"`
	Frequency   string   `json:"frequency"`
	ReportType  string   `json:"report_type"`
	Audience    string   `json:"audience"`
	ProcessIDs  []string `json:"process_ids"`
	Formats     []string `json:"output_formats"`
	Recipients  []string `json:"recipients"`
	Enabled     bool     `json:"enabled"`
	LastRun     string   `json:"last_run,omitempty"`
	NextRun     string   `json:"next_run,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

type ExecutionResponse struct {
	ID            string `json:"id"`
	ScheduleID    string `json:"schedule_id,omitempty"`
	WorkspaceID   string `json:"workspace_id"`
	Status        string `json:"status"`
	ScheduledFor  string `json:"scheduled_for"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	QuotaConsumed int    `json:"quota_consumed"`
	CacheHit      bool   `json:"cache_hit"`
	Error         string `json:"error,omitempty"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

// MovementEvent is one process movement reported by the ingestion pipeline.
type MovementEvent struct {
	ProcessID string `json:"process_id"`
	Date      string `json:"date"` // RFC 3339
}

type InvalidateRequest struct {
	Movements []MovementEvent `json:"movements"`
}

type InvalidateResponse struct {
	Invalidated int      `json:"invalidated"`
	ProcessIDs  []string `json:"process_ids,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
