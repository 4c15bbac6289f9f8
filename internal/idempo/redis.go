package idempo

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisRegistry shares idempotency outcomes across terminals and restarts.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(addr string, password string, db int) *RedisRegistry {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, "idem:"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisRegistry) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return r.client.Set(ctx, "idem:"+key, payload, ttl).Err()
}
