package domain

import "github.com/google/uuid"

// GenerationRequest is the input handed to the external report generator.
// DeltaDataOnly is set for the delta report type so the generator fetches
// only movements since the previous artifact.
type GenerationRequest struct {
	WorkspaceID   uuid.UUID
	ReportType    ReportType
	ProcessIDs    []string
	AudienceType  AudienceType
	OutputFormats []Format
	DeltaDataOnly bool
}

// GenerationResult is what the generator reports back. CacheHit/CacheKey
// describe whether the generator served the artifact from the result cache.
type GenerationResult struct {
	Summary    string
	FileURLs   []string
	FileSize   int64
	TokensUsed int
	CacheHit   bool
	CacheKey   string
}
