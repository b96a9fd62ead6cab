package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisClaimPrefix = "tipline:fp:"

// releaseScript deletes a claim only when the caller still owns it, so a
// failed submission cannot free a fingerprint another tip has since taken.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisClaims is the fingerprint register for queue_mode=durable. SETNX makes
// the insert atomic across every process sharing the redis instance.
type RedisClaims struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClaims wires the register. ttl zero keeps claims until released,
// matching the postgres register; a positive ttl ages dedup out.
func NewRedisClaims(rdb *redis.Client, ttl time.Duration) *RedisClaims {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisClaims{rdb: rdb, ttl: ttl}
}

func (c *RedisClaims) Claim(ctx context.Context, fingerprint, tipID string) (string, bool, error) {
	key := defaultRedisClaimPrefix + fingerprint
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := c.rdb.SetNX(ctx, key, tipID, c.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("claim fingerprint: %w", err)
		}
		if ok {
			return tipID, true, nil
		}
		canonical, err := c.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// The owner expired between the insert attempt and the read.
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read fingerprint owner: %w", err)
		}
		return canonical, false, nil
	}
	return "", false, fmt.Errorf("claim fingerprint %s: owner kept expiring", fingerprint)
}

func (c *RedisClaims) Release(ctx context.Context, fingerprint, tipID string) error {
	key := defaultRedisClaimPrefix + fingerprint
	if err := releaseScript.Run(ctx, c.rdb, []string{key}, tipID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release fingerprint: %w", err)
	}
	return nil
}
