package domain

import (
	"time"

	"github.com/google/uuid"
)

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Valid reports whether f is one of the supported recurrence frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// Next returns the next run date after from.
// Monthly advancement uses calendar months (Jan 31 + 1 month = Mar 3),
// matching AddDate semantics.
func (f Frequency) Next(from time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	default:
		return from.AddDate(0, 0, 7)
	}
}

type AudienceType string

const (
	AudienceClient   AudienceType = "client"
	AudienceInternal AudienceType = "internal"
)

type ReportType string

const (
	// ReportTypeComplete renders the full state of every monitored process.
	ReportTypeComplete ReportType = "complete"
	// ReportTypeDelta renders only what changed since the last report.
	ReportTypeDelta ReportType = "delta"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ScheduleDefinition is a tenant's recurring report intent.
// The planner mutates LastRun/NextRun/MonthlyQuotaUsed after each pass;
// schedules are disabled, never deleted, by the scheduling subsystem.
type ScheduleDefinition struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID

	Name          string
	Frequency     Frequency
	ReportType    ReportType
	AudienceType  AudienceType
	ProcessIDs    []string
	OutputFormats []Format
	Recipients    []string
	Enabled       bool

	LastRun          *time.Time
	NextRun          *time.Time
	MonthlyQuotaUsed int

	CreatedAt time.Time
	UpdatedAt time.Time
}
