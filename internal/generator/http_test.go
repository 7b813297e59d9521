package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/domain"
)

func TestGenerate_Success(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer engine-token" {
			t.Errorf("Authorization = %q, want bearer token", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(generateResponse{
			Summary:    "2 movements across 3 cases",
			FileURLs:   []string{"https://files.test/report.pdf"},
			FileSize:   20480,
			TokensUsed: 1200,
		})
	}))
	defer server.Close()

	gen := New(server.URL, "engine-token", zerolog.Nop())
	result, err := gen.Generate(context.Background(), domain.GenerationRequest{
		WorkspaceID:   uuid.New(),
		ReportType:    domain.ReportTypeDelta,
		ProcessIDs:    []string{"proc-1", "proc-2"},
		AudienceType:  domain.AudienceClient,
		OutputFormats: []domain.Format{domain.FormatPDF},
		DeltaDataOnly: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !got.DeltaDataOnly {
		t.Error("delta_data_only should be forwarded")
	}
	if got.ReportType != "delta" {
		t.Errorf("report_type = %q, want delta", got.ReportType)
	}
	if result.Summary != "2 movements across 3 cases" {
		t.Errorf("Summary = %q", result.Summary)
	}
	if result.TokensUsed != 1200 {
		t.Errorf("TokensUsed = %d, want 1200", result.TokensUsed)
	}
}

func TestGenerate_EngineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gen := New(server.URL, "", zerolog.Nop())
	_, err := gen.Generate(context.Background(), domain.GenerationRequest{WorkspaceID: uuid.New()})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestGenerate_ApplicationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Error: "workspace has no indexed cases"})
	}))
	defer server.Close()

	gen := New(server.URL, "", zerolog.Nop())
	_, err := gen.Generate(context.Background(), domain.GenerationRequest{WorkspaceID: uuid.New()})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerate_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := New(server.URL, "", zerolog.Nop())
	_, err := gen.Generate(ctx, domain.GenerationRequest{WorkspaceID: uuid.New()})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
