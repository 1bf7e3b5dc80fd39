package declined

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps declined ids in a Redis set per driver. The whole set
// expires ttl after the most recent addition, so a long idle period
// starts the driver with a clean slate.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisStore(addr, password, driverID string, ttl time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: setKey(driverID), ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, r.key).Result()
}

func (r *RedisStore) Add(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.key, id)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func setKey(driverID string) string {
	if driverID == "" {
		driverID = "default"
	}
	return "driver:declined:" + driverID
}
