package screening

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/flashbots/blocklist-client/metrics"
)

var RedisPrefix = "blocklist-client:"
var RedisPrefixDecision = RedisPrefix + "decision:"

func RedisKeyDecision(fp Fingerprint) string {
	return RedisPrefixDecision + fp.String()
}

// RedisCache is a DecisionCache shared by all replicas. Expiry is left to
// Redis; capacity is bounded by the server's maxmemory policy.
type RedisCache struct {
	RedisClient *redis.Client
}

func NewRedisCache(redisUrl string) (*RedisCache, error) {
	redisClient := redis.NewClient(&redis.Options{Addr: redisUrl})

	// Try to get a key to see if there's an error with the connection
	if err := redisClient.Get(context.Background(), "somekey").Err(); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "redis init error")
	}

	return &RedisCache{
		RedisClient: redisClient,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, fp Fingerprint) (Decision, bool, error) {
	val, err := c.RedisClient.Get(ctx, RedisKeyDecision(fp)).Bytes()
	if err == redis.Nil {
		return Decision{}, false, nil // just not found
	} else if err != nil {
		metrics.IncRedisErr()
		return Decision{}, false, errors.Wrap(err, "redis get decision")
	}

	var decision Decision
	if err = json.Unmarshal(val, &decision); err != nil {
		return Decision{}, false, errors.Wrapf(err, "corrupt decision for %s", fp)
	}
	return decision, true, nil
}

func (c *RedisCache) Put(ctx context.Context, fp Fingerprint, decision Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("invalid ttl %s for %s", ttl, fp)
	}
	val, err := json.Marshal(decision)
	if err != nil {
		return errors.Wrap(err, "marshal decision")
	}
	if err = c.RedisClient.Set(ctx, RedisKeyDecision(fp), val, ttl).Err(); err != nil {
		metrics.IncRedisErr()
		return errors.Wrap(err, "redis set decision")
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.RedisClient.Close()
}
