package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	SearchRateLimit      = rate.Limit(10.0 / 60.0) // per second
	SearchRateBurst      = 5
	WebSearchHTTPTimeout = 10 * time.Second
	maxFetchBodySize     = 512 * 1024
)

type toolSessionContextKey struct{}

// toolRateLimiter keeps one token bucket per key. Buckets idle for
// toolLimiterIdle are dropped on the next Allow after a sweep is due.
type toolRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	byKey     map[string]*toolBucket
	lastSweep time.Time
}

type toolBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const toolLimiterIdle = 30 * time.Minute

func newToolRateLimiter(limit rate.Limit, burst int) *toolRateLimiter {
	return &toolRateLimiter{
		limit:     limit,
		burst:     burst,
		now:       time.Now,
		byKey:     make(map[string]*toolBucket),
		lastSweep: time.Now(),
	}
}

func (l *toolRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= time.Minute {
		l.evictIdleLocked(now)
	}
	b, ok := l.byKey[key]
	if !ok {
		b = &toolBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

func (l *toolRateLimiter) evictIdleLocked(now time.Time) {
	for key, b := range l.byKey {
		if now.Sub(b.lastSeen) > toolLimiterIdle {
			delete(l.byKey, key)
		}
	}
	l.lastSweep = now
}

func (l *toolRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

// WithToolSession tags ctx with the session the tools run for.
func WithToolSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, sessionID)
}

func ToolSessionFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(toolSessionContextKey{}).(string)
	return sessionID, ok && sessionID != ""
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "VideoSummarizer-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
