package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"credrelay/internal/credential"
)

// Finder is the read side a cache can sit in front of.
type Finder interface {
	Find(ctx context.Context, subjectID credential.SubjectID) (credential.Record, error)
}

// RedisCache decorates a replica store with a read-through cache. Replica
// records are immutable once written, so positive hits can never go stale;
// misses always fall through so a not-yet-replicated subject is re-checked
// every time. Cache failures degrade to the inner store, never to an error.
type RedisCache struct {
	inner  Finder
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache wraps inner with a Redis cache. The TTL only bounds memory;
// correctness does not depend on expiry.
func NewRedisCache(inner Finder, client *redis.Client, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		inner:  inner,
		client: client,
		ttl:    24 * time.Hour,
		logger: logger,
	}
}

func (c *RedisCache) Find(ctx context.Context, subjectID credential.SubjectID) (credential.Record, error) {
	key := cacheKey(subjectID)

	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		rec, derr := credential.DecodeIssued(cached)
		if derr == nil {
			return rec, nil
		}
		c.logger.WarnContext(ctx, "dropping undecodable cache entry",
			"key", key,
			"error", derr,
		)
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "verification cache read failed",
			"key", key,
			"error", err,
		)
	}

	rec, err := c.inner.Find(ctx, subjectID)
	if err != nil {
		return credential.Record{}, err
	}
	if encoded, eerr := credential.EncodeIssued(rec); eerr == nil {
		if serr := c.client.Set(ctx, key, encoded, c.ttl).Err(); serr != nil {
			c.logger.WarnContext(ctx, "verification cache write failed",
				"key", key,
				"error", serr,
			)
		}
	}
	return rec, nil
}

func cacheKey(subjectID credential.SubjectID) string {
	return "credential:" + subjectID.String()
}
