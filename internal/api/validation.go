package api

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/justoai/relato/internal/domain"
)

const maxProcessIDs = 500

func validateCreateSchedule(req CreateScheduleRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}

	if _, err := uuid.Parse(req.WorkspaceID); err != nil {
		return fmt.Errorf("invalid workspace_id: %w", err)
	}

	if !domain.Frequency(req.Frequency).Valid() {
		return fmt.Errorf("frequency must be one of weekly, biweekly, monthly")
	}

	switch domain.ReportType(req.ReportType) {
	case domain.ReportTypeComplete, domain.ReportTypeDelta:
	default:
		return fmt.Errorf("report_type must be complete or delta")
	}

	switch domain.AudienceType(req.Audience) {
	case domain.AudienceClient, domain.AudienceInternal:
	default:
		return fmt.Errorf("audience must be client or internal")
	}

	if len(req.ProcessIDs) == 0 {
		return fmt.Errorf("process_ids is required")
	}
	if len(req.ProcessIDs) > maxProcessIDs {
		return fmt.Errorf("process_ids exceeds limit of %d", maxProcessIDs)
	}
	for _, id := range req.ProcessIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("process_ids must not contain blank entries")
		}
	}

	for _, f := range req.Formats {
		switch domain.Format(f) {
		case domain.FormatPDF, domain.FormatDOCX:
		default:
			return fmt.Errorf("unsupported output format %q", f)
		}
	}

	if len(req.Recipients) == 0 {
		return fmt.Errorf("recipients is required")
	}
	for _, r := range req.Recipients {
		if !strings.Contains(r, "@") {
			return fmt.Errorf("invalid recipient %q", r)
		}
	}

	return nil
}

func validateInvalidate(req InvalidateRequest) error {
	if len(req.Movements) == 0 {
		return fmt.Errorf("movements is required")
	}
	for i, m := range req.Movements {
		if strings.TrimSpace(m.ProcessID) == "" {
			return fmt.Errorf("movements[%d].process_id is required", i)
		}
		if m.Date == "" {
			return fmt.Errorf("movements[%d].date is required", i)
		}
	}
	return nil
}
