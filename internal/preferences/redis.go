package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/practice-sem-2/group-chat-service/internal/models"
)

const redisKeyPrefix = "preferences:"

// RedisBackend shares the cache between service instances. Expiry is left
// to redis.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func redisKey(userID string) string {
	return redisKeyPrefix + userID
}

func (r *RedisBackend) Get(ctx context.Context, userID string) (*models.Settings, error) {
	raw, err := r.client.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	s := &models.Settings{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("can't decode cached settings: %w", err)
	}
	return s, nil
}

func (r *RedisBackend) Put(ctx context.Context, userID string, s *models.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKey(userID), raw, r.ttl).Err()
}

func (r *RedisBackend) Invalidate(ctx context.Context, userID string) error {
	return r.client.Del(ctx, redisKey(userID)).Err()
}
