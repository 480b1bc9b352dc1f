package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Applied is what the cache keeps about an applied session.
type Applied struct {
	VendorID uuid.UUID
	Purpose  Purpose
}

// AppliedCache remembers sessions already applied so repeated verify calls can
// skip the provider round trip. It is never the source of truth.
type AppliedCache interface {
	AppliedBy(ctx context.Context, sessionID string) (Applied, bool)
	MarkApplied(ctx context.Context, sessionID string, a Applied)
}

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedisCache parses url and returns a cache backed by it.
func NewRedisCache(url string, ttl time.Duration, log *slog.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{rdb: redis.NewClient(opt), ttl: ttl, log: log}, nil
}

func appliedKey(sessionID string) string { return "payments:applied:" + sessionID }

// Values are stored as "<purpose>:<vendor id>".
func (c *RedisCache) AppliedBy(ctx context.Context, sessionID string) (Applied, bool) {
	v, err := c.rdb.Get(ctx, appliedKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Applied{}, false
	}
	if err != nil {
		c.log.Warn("applied-session cache read failed", "session_id", sessionID, "error", err)
		return Applied{}, false
	}
	purpose, rawVendor, _ := strings.Cut(v, ":")
	vendorID, err := uuid.Parse(rawVendor)
	if err != nil || !Purpose(purpose).Valid() {
		return Applied{}, false
	}
	return Applied{VendorID: vendorID, Purpose: Purpose(purpose)}, true
}

func (c *RedisCache) MarkApplied(ctx context.Context, sessionID string, a Applied) {
	val := string(a.Purpose) + ":" + a.VendorID.String()
	if err := c.rdb.Set(ctx, appliedKey(sessionID), val, c.ttl).Err(); err != nil {
		c.log.Warn("applied-session cache write failed", "session_id", sessionID, "error", err)
	}
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

// NoCache is used when no Redis URL is configured.
type NoCache struct{}

func (NoCache) AppliedBy(context.Context, string) (Applied, bool) { return Applied{}, false }
func (NoCache) MarkApplied(context.Context, string, Applied)      {}
