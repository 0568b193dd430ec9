package assistant

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"videosummarizer/internal/models"
	"videosummarizer/internal/redis"
)

const sessionCacheTTL = 30 * time.Minute

// sessionCache is a write-through redis copy of session rows.
// With no client every call is a no-op.
type sessionCache struct {
	client *redis.Client
	logger *zap.Logger
}

func newSessionCache(client *redis.Client, logger *zap.Logger) *sessionCache {
	return &sessionCache{client: client, logger: logger}
}

func sessionKey(id string) string {
	return "session:" + id
}

func (c *sessionCache) enabled() bool {
	return c != nil && c.client != nil && c.client.Raw() != nil
}

func (c *sessionCache) store(ctx context.Context, se *models.Session) {
	if !c.enabled() || se == nil {
		return
	}
	if err := c.client.SetJSON(ctx, sessionKey(se.ID), se, sessionCacheTTL); err != nil {
		c.logger.Warn("cache session", zap.String("session_id", se.ID), zap.Error(err))
	}
}

func (c *sessionCache) load(ctx context.Context, id string) (*models.Session, bool) {
	if !c.enabled() {
		return nil, false
	}
	var se models.Session
	if err := c.client.GetJSON(ctx, sessionKey(id), &se); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("load cached session", zap.String("session_id", id), zap.Error(err))
		}
		return nil, false
	}
	return &se, true
}

func (c *sessionCache) invalidate(ctx context.Context, id string) {
	if !c.enabled() {
		return
	}
	if err := c.client.Del(ctx, sessionKey(id)); err != nil {
		c.logger.Warn("invalidate session", zap.String("session_id", id), zap.Error(err))
	}
}
