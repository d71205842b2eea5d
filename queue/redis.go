package queue

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists queue snapshots under a single Redis key, so a
// restarted process can pick up the pending set another instance saved.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store writing to the given key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "toolflow:queue:snapshot"
	}
	return &RedisStore{client: client, key: key}
}

// Save writes the snapshot blob with no expiry.
func (r *RedisStore) Save(ctx context.Context, blob []byte) error {
	return r.client.Set(ctx, r.key, blob, 0).Err()
}

// Load reads the snapshot blob. A missing key is not an error.
func (r *RedisStore) Load(ctx context.Context) ([]byte, bool, error) {
	blob, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

var _ Store = (*RedisStore)(nil)
