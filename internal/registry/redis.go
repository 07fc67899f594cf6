package registry

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the registry in one Redis hash. The client is shared with
// other components and is not closed by the store.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore returns a store using the hash at key.
func NewRedisStore(client redis.Cmdable, key string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("collection key is required")
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Set(ctx context.Context, displayName, externalID string) error {
	return s.client.HSet(ctx, s.key, displayName, externalID).Err()
}

func (s *RedisStore) Delete(ctx context.Context, displayNames ...string) error {
	if len(displayNames) == 0 {
		return nil
	}
	return s.client.HDel(ctx, s.key, displayNames...).Err()
}

func (s *RedisStore) All(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key).Result()
}

// Clear deletes the hash with a single DEL.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStore) Close() error { return nil }
