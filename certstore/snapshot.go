package certstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// SnapshotKey is the default redis key the certificate set is stored under
const SnapshotKey = "wechatpay:platform:certificates"

// SnapshotStore persists the downloaded certificate set across restarts so a
// fresh process can verify before its first download completes
type SnapshotStore interface {
	// Save replaces the persisted set with pems, keyed by serial
	Save(ctx context.Context, pems map[string]string) error
	// Load returns the persisted set, empty when nothing has been saved
	Load(ctx context.Context) (map[string]string, error)
}

// RedisSnapshot keeps the certificate set in a redis hash of serial to PEM
type RedisSnapshot struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSnapshot returns a RedisSnapshot stored under key, or SnapshotKey
// when key is empty
func NewRedisSnapshot(client redis.UniversalClient, key string) *RedisSnapshot {
	if key == "" {
		key = SnapshotKey
	}
	return &RedisSnapshot{client: client, key: key}
}

// Save replaces the stored hash in one transaction so serials dropped by a
// rotation do not linger
func (r *RedisSnapshot) Save(ctx context.Context, pems map[string]string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key)
	if len(pems) > 0 {
		values := make(map[string]interface{}, len(pems))
		for serial, pemBytes := range pems {
			values[serial] = pemBytes
		}
		pipe.HSet(ctx, r.key, values)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns the stored hash
func (r *RedisSnapshot) Load(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.key).Result()
}
