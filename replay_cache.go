package mfakit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "rp"

// replayCache tracks TOTP token values that already verified, so the
// same token is rejected until every window that could produce it has
// passed. Check and mark are two round trips on purpose: two requests
// racing the same token can, rarely, both pass. The persisted window
// counter still stops the second one from advancing state twice.
type replayCache struct {
	redis  *redis.Client
	prefix string
}

func newReplayCache(redisClient *redis.Client, prefix string) *replayCache {
	return &replayCache{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *replayCache) key(userID, token string) string {
	sum := sha256.Sum256([]byte(userID + ":" + token))
	return c.prefix + ":" + replayKeyPrefix + ":" + hex.EncodeToString(sum[:16])
}

// Seen reports whether the token value was already accepted for the user.
func (c *replayCache) Seen(ctx context.Context, userID, token string) (bool, error) {
	err := c.redis.Get(ctx, c.key(userID, token)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return true, nil
}

// Mark records an accepted token value for ttl.
func (c *replayCache) Mark(ctx context.Context, userID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := c.redis.Set(ctx, c.key(userID, token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	return nil
}
