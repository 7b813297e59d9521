package cache

import (
	"testing"

	"github.com/google/uuid"

	"github.com/justoai/relato/internal/domain"
)

func TestKey_OrderInsensitive(t *testing.T) {
	ws := uuid.New()

	a := Key(ws, domain.ReportTypeComplete, domain.AudienceClient, []string{"P1", "P2", "P3"})
	b := Key(ws, domain.ReportTypeComplete, domain.AudienceClient, []string{"P3", "P1", "P2"})
	if a != b {
		t.Errorf("same logical request produced different keys:\n%s\n%s", a, b)
	}
}

func TestKey_DistinguishesInputs(t *testing.T) {
	ws := uuid.New()
	base := Key(ws, domain.ReportTypeComplete, domain.AudienceClient, []string{"P1"})

	variants := []string{
		Key(uuid.New(), domain.ReportTypeComplete, domain.AudienceClient, []string{"P1"}),
		Key(ws, domain.ReportTypeDelta, domain.AudienceClient, []string{"P1"}),
		Key(ws, domain.ReportTypeComplete, domain.AudienceInternal, []string{"P1"}),
		Key(ws, domain.ReportTypeComplete, domain.AudienceClient, []string{"P1", "P2"}),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base key", i)
		}
	}
}

func TestKey_DoesNotMutateInput(t *testing.T) {
	ids := []string{"P3", "P1", "P2"}
	Key(uuid.New(), domain.ReportTypeComplete, domain.AudienceClient, ids)
	if ids[0] != "P3" || ids[1] != "P1" || ids[2] != "P2" {
		t.Errorf("Key sorted the caller's slice: %v", ids)
	}
}
