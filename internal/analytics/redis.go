// Package analytics records per-workspace report-generation usage in
// Redis. The counters feed billing and usage dashboards that live outside
// this service. Writes are fire-and-forget: analytics never affects an
// execution's outcome.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRetention keeps monthly buckets around long enough for invoicing
// disputes.
const DefaultRetention = 90 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	log       zerolog.Logger
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client, log zerolog.Logger) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		log:       log.With().Str("component", "analytics").Logger(),
		clock:     time.Now,
	}
}

// WithRetention overrides the bucket TTL.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// Record accumulates one completed generation into the workspace's monthly
// bucket: report count, token usage and cache hits. Errors are logged,
// never propagated.
func (s *RedisSink) Record(ctx context.Context, workspaceID uuid.UUID, tokensUsed int, cacheHit bool) {
	bucket := s.clock().UTC().Format("200601")

	pipe := s.client.Pipeline()
	reports := bucketKey(workspaceID, "reports", bucket)
	pipe.Incr(ctx, reports)
	pipe.Expire(ctx, reports, s.retention)

	if tokensUsed > 0 {
		tokens := bucketKey(workspaceID, "tokens", bucket)
		pipe.IncrBy(ctx, tokens, int64(tokensUsed))
		pipe.Expire(ctx, tokens, s.retention)
	}
	if cacheHit {
		hits := bucketKey(workspaceID, "cache_hits", bucket)
		pipe.Incr(ctx, hits)
		pipe.Expire(ctx, hits, s.retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).
			Stringer("workspace_id", workspaceID).
			Msg("usage record lost")
	}
}

func bucketKey(workspaceID uuid.UUID, metric, bucket string) string {
	return fmt.Sprintf("ws:%s:%s:%s", workspaceID, metric, bucket)
}
