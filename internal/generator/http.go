// Package generator calls the report generation engine over HTTP. The
// engine renders the actual documents; this client only carries the
// request and decodes the outcome.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/justoai/relato/internal/cache"
	"github.com/justoai/relato/internal/dispatcher"
	"github.com/justoai/relato/internal/domain"
)

type HTTPGenerator struct {
	client *http.Client
	url    string
	token  string
	log    zerolog.Logger
}

// New creates a generator client for the engine at url. The token, when
// non-empty, is sent as a bearer credential.
func New(url, token string, log zerolog.Logger) *HTTPGenerator {
	return &HTTPGenerator{
		client: &http.Client{},
		url:    url,
		token:  token,
		log:    log.With().Str("component", "generator").Logger(),
	}
}

type generateRequest struct {
	WorkspaceID   string   `json:"workspace_id"`
	ReportType    string   `json:"report_type"`
	Audience      string   `json:"audience"`
	ProcessIDs    []string `json:"process_ids"`
	OutputFormats []string `json:"output_formats"`
	DeltaDataOnly bool     `json:"delta_data_only"`
}

type generateResponse struct {
	Summary    string   `json:"summary"`
	FileURLs   []string `json:"file_urls"`
	FileSize   int64    `json:"file_size"`
	TokensUsed int      `json:"tokens_used"`
	CacheHit   bool     `json:"cache_hit"`
	CacheKey   string   `json:"cache_key"`
	Error      string   `json:"error,omitempty"`
}

// Generate submits the request and blocks until the engine responds or ctx
// expires. Timeout policy belongs to the caller.
func (g *HTTPGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	formats := make([]string, len(req.OutputFormats))
	for i, f := range req.OutputFormats {
		formats[i] = string(f)
	}

	body, err := json.Marshal(generateRequest{
		WorkspaceID:   req.WorkspaceID.String(),
		ReportType:    string(req.ReportType),
		Audience:      string(req.AudienceType),
		ProcessIDs:    req.ProcessIDs,
		OutputFormats: formats,
		DeltaDataOnly: req.DeltaDataOnly,
	})
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("call generation engine: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("read engine response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.GenerationResult{}, fmt.Errorf("generation engine returned %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("decode engine response: %w", err)
	}
	if decoded.Error != "" {
		return domain.GenerationResult{}, fmt.Errorf("generation engine: %s", decoded.Error)
	}

	g.log.Debug().
		Stringer("workspace_id", req.WorkspaceID).
		Int("processes", len(req.ProcessIDs)).
		Bool("cache_hit", decoded.CacheHit).
		Msg("report generated")

	return domain.GenerationResult{
		Summary:    decoded.Summary,
		FileURLs:   decoded.FileURLs,
		FileSize:   decoded.FileSize,
		TokensUsed: decoded.TokensUsed,
		CacheHit:   decoded.CacheHit,
		CacheKey:   decoded.CacheKey,
	}, nil
}

var (
	_ dispatcher.ReportGenerator = (*HTTPGenerator)(nil)
	_ cache.Generator            = (*HTTPGenerator)(nil)
)
