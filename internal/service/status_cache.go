package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/dto"
)

// StatusCache keeps rendered submission status views in Redis. A nil client disables it.
type StatusCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStatusCache constructs a cache with the given TTL.
func NewStatusCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatusCache{
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "status_cache").Logger(),
	}
}

func statusCacheKey(submissionID uint) string {
	return fmt.Sprintf("assessment:submission:%d:status", submissionID)
}

// Get returns a cached view when one exists.
func (c *StatusCache) Get(ctx context.Context, submissionID uint) (dto.SubmissionStatusResponse, bool) {
	if c == nil || c.redis == nil {
		return dto.SubmissionStatusResponse{}, false
	}

	raw, err := c.redis.Get(ctx, statusCacheKey(submissionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("status cache read failed")
		}
		return dto.SubmissionStatusResponse{}, false
	}

	var view dto.SubmissionStatusResponse
	if err := json.Unmarshal(raw, &view); err != nil {
		return dto.SubmissionStatusResponse{}, false
	}
	return view, true
}

// Set stores a view until the TTL expires or the reconciler invalidates it.
func (c *StatusCache) Set(ctx context.Context, submissionID uint, view dto.SubmissionStatusResponse) {
	if c == nil || c.redis == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, statusCacheKey(submissionID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("status cache write failed")
	}
}

// Invalidate drops the cached view for a submission.
func (c *StatusCache) Invalidate(ctx context.Context, submissionID uint) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, statusCacheKey(submissionID)).Err(); err != nil {
		c.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("status cache invalidation failed")
	}
}
