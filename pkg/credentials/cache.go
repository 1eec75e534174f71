package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "provisioner:credentials:"

// Cache stores validation results by credential fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) (ValidationResult, bool, error)
	Set(ctx context.Context, key string, result ValidationResult, ttl time.Duration) error
}

// Fingerprint identifies a credential set without storing its values.
func Fingerprint(service string, creds map[string]string) string {
	fields := make([]string, 0, len(creds))
	for field := range creds {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	hash := sha256.New()
	hash.Write([]byte(service))

	for _, field := range fields {
		hash.Write([]byte{0})
		hash.Write([]byte(field))
		hash.Write([]byte{'='})
		hash.Write([]byte(creds[field]))
	}

	return cacheKeyPrefix + service + ":" + hex.EncodeToString(hash.Sum(nil))
}

// RedisCache keeps results in Redis with a TTL.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisClient connects to the Redis instance at redisURL and pings it.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (ValidationResult, bool, error) {
	var result ValidationResult

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return result, false, nil
		}

		return result, false, fmt.Errorf("failed to read cached result: %w", err)
	}

	err = json.Unmarshal(data, &result)
	if err != nil {
		return result, false, fmt.Errorf("failed to decode cached result: %w", err)
	}

	return result, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, result ValidationResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	err = c.client.Set(ctx, key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}

	return nil
}
